// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package tag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagSets_Contains(t *testing.T) {
	t.Parallel()

	ts := NewTagSetFromMap(map[string]string{"a": "1"})

	require.True(t, ts.Contains("a", "1"))
	require.False(t, ts.Contains("1", "a"))
	require.False(t, ts.Contains("A", "1"))
}

func TestTagSets_ContainsAll(t *testing.T) {
	t.Parallel()

	ts := NewTagSetFromMap(map[string]string{"a": "1", "b": "2"})

	test := NewTagSetFromMap(map[string]string{"a": "1"})
	require.True(t, ts.ContainsAll(test))

	test = NewTagSetFromMap(map[string]string{"a": "1", "b": "2"})
	require.True(t, ts.ContainsAll(test))

	test = NewTagSetFromMap(map[string]string{"a": "1", "b": "3"})
	require.False(t, ts.ContainsAll(test))

	test = NewTagSetFromMap(map[string]string{"a": "1", "c": "2"})
	require.False(t, ts.ContainsAll(test))
}
