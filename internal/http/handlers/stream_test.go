package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const livePlaylist = "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n" +
	"#EXTINF:4.000,\nsegment_00000.ts\n#EXTINF:4.000,\nsegment_00001.ts\n"

func TestInjectEndList(t *testing.T) {
	got := InjectEndList(livePlaylist)

	assert.Contains(t, got, "#EXT-X-ENDLIST")
	assert.Contains(t, got, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.True(t, strings.HasPrefix(got, "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n"),
		"VOD header goes right after #EXTM3U")
}

func TestInjectEndList_Idempotent(t *testing.T) {
	once := InjectEndList(livePlaylist)
	twice := InjectEndList(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, "#EXT-X-ENDLIST"))
	assert.Equal(t, 1, strings.Count(twice, "#EXT-X-PLAYLIST-TYPE:VOD"))
}

func TestInjectEndList_KeepsExistingVODHeader(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXTINF:4.000,\nsegment_00000.ts\n"
	got := InjectEndList(playlist)

	assert.Equal(t, 1, strings.Count(got, "#EXT-X-PLAYLIST-TYPE:VOD"))
	assert.True(t, strings.HasSuffix(got, "#EXT-X-ENDLIST\n"))
}

func TestSafeJoin(t *testing.T) {
	h := &StreamHandler{workDir: "/data/work"}

	path, ok := h.safeJoin("job-1", "master.m3u8")
	require.True(t, ok)
	assert.Equal(t, "/data/work/job-1/master.m3u8", path)

	path, ok = h.safeJoin("job-1", "sub/stream_0.m3u8")
	require.True(t, ok)
	assert.Equal(t, "/data/work/job-1/sub/stream_0.m3u8", path)

	_, ok = h.safeJoin("job-1", "")
	assert.False(t, ok)

	// Traversal is cleaned away or rejected; either way it cannot
	// escape the job directory.
	path, ok = h.safeJoin("job-1", "../../etc/passwd")
	if ok {
		assert.True(t, strings.HasPrefix(path, "/data/work/job-1/"))
	}
}
