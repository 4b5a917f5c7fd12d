// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package readpref

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ikmak/mongo-driver-core/tag"
)

func TestPrimary_with_tags_errors(t *testing.T) {
	t.Parallel()

	_, err := New(PrimaryMode, WithTags("dc", "ny"))
	require.Error(t, err)
}

func TestPrimary_with_max_staleness_errors(t *testing.T) {
	t.Parallel()

	_, err := New(PrimaryMode, WithMaxStaleness(90*time.Second))
	require.Error(t, err)
}

func TestSecondary_with_tags(t *testing.T) {
	t.Parallel()

	rp := Secondary(WithTags("dc", "ny", "rack", "a"))

	require.Equal(t, SecondaryMode, rp.Mode())
	require.Equal(t, []tag.Set{
		{tag.Tag{Name: "dc", Value: "ny"}, tag.Tag{Name: "rack", Value: "a"}},
	}, rp.TagSets())
}

func TestWithTags_requires_pairs(t *testing.T) {
	t.Parallel()

	_, err := New(SecondaryMode, WithTags("dc"))
	require.Error(t, err)

	_, err = New(SecondaryMode, WithTags("dc", "ny", "rack"))
	require.Error(t, err)
}

func TestNearest_with_max_staleness(t *testing.T) {
	t.Parallel()

	rp := Nearest(WithMaxStaleness(120 * time.Second))

	require.Equal(t, NearestMode, rp.Mode())
	ms, set := rp.MaxStaleness()
	require.True(t, set)
	require.Equal(t, 120*time.Second, ms)
}

func TestModeFromString(t *testing.T) {
	t.Parallel()

	for str, expected := range map[string]Mode{
		"primary":            PrimaryMode,
		"primaryPreferred":   PrimaryPreferredMode,
		"secondary":          SecondaryMode,
		"secondaryPreferred": SecondaryPreferredMode,
		"nearest":            NearestMode,
	} {
		mode, err := ModeFromString(str)
		require.NoError(t, err)
		require.Equal(t, expected, mode)
	}

	_, err := ModeFromString("awesome")
	require.Error(t, err)
}
