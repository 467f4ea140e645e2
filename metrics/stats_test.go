/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsIncAndGet(t *testing.T) {
	s := NewStats()
	s.Inc("rx.ack")
	s.Inc("rx.ack")
	s.UpdateBy("tx.start", 5)

	got := s.Get()
	require.Equal(t, int64(2), got["rx.ack"])
	require.Equal(t, int64(5), got["tx.start"])
}

func TestStatsReset(t *testing.T) {
	s := NewStats()
	s.Set("foo", 42)
	s.Reset()
	require.Equal(t, int64(0), s.Get()["foo"])
}

func TestStatsHandleRequestServesJSON(t *testing.T) {
	s := NewStats()
	s.Set("rx.count", 3)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.handleRequest(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Result().Body)
	require.NoError(t, err)

	var got map[string]int64
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, int64(3), got["rx.count"])
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "a_b_c_d_e", flattenKey("a b.c-d=e"))
}
