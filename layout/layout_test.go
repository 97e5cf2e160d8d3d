package layout

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/batchsync/errors"
)

func TestParseRunIdentity(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    RunIdentity
		wantErr bool
	}{
		{
			name: "well formed",
			path: "/data/ads/ams/hv-1#bot-03/42",
			want: RunIdentity{Location: "ams", HostHostname: "hv-1", Hostname: "bot-03", RunID: 42},
		},
		{
			name: "trailing slash",
			path: "/data/ads/nyc/hv-2#bot-1/7/",
			want: RunIdentity{Location: "nyc", HostHostname: "hv-2", Hostname: "bot-1", RunID: 7},
		},
		{
			name: "relative path",
			path: "lon/a#b/0",
			want: RunIdentity{Location: "lon", HostHostname: "a", Hostname: "b", RunID: 0},
		},
		{name: "run id not a number", path: "/data/ams/hv-1#bot-03/latest", wantErr: true},
		{name: "no separator", path: "/data/ams/hv-1/42", wantErr: true},
		{name: "two separators", path: "/data/ams/hv#1#bot/42", wantErr: true},
		{name: "empty host hostname", path: "/data/ams/#bot/42", wantErr: true},
		{name: "empty hostname", path: "/data/ams/hv-1#/42", wantErr: true},
		{name: "no location", path: "hv-1#bot/42", wantErr: true},
		{name: "location not utf-8", path: "/data/loc\xff/hv-1#bot/3", wantErr: true},
		{name: "host hostname not utf-8", path: "/data/ams/hv\xfe#bot/3", wantErr: true},
		{name: "hostname not utf-8", path: "/data/ams/hv-1#bot\xfe/3", wantErr: true},
		{
			name: "non-ascii utf-8",
			path: "/data/zürich/hv-1#bot-é/5",
			want: RunIdentity{Location: "zürich", HostHostname: "hv-1", Hostname: "bot-é", RunID: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRunIdentity(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				var mpe *MalformedPathError
				assert.True(t, stderrors.As(err, &mpe))
				assert.Equal(t, tt.path, mpe.Path)
				assert.ErrorIs(t, err, errors.ErrMalformedPath)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAdFileRecord(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    AdFileRecord
		wantErr bool
	}{
		{
			name: "xml file",
			path: "/runs/ams/hv#bot/1/bot-03#2#1600000123#yes.xml",
			want: AdFileRecord{BotName: "bot-03", TryNum: "2", AdSeenAt: 1600000123, VideoWatched: "yes"},
		},
		{
			name: "no extension",
			path: "bot#1#1600000000#no",
			want: AdFileRecord{BotName: "bot", TryNum: "1", AdSeenAt: 1600000000, VideoWatched: "no"},
		},
		{
			name: "only final extension stripped",
			path: "bot#1#1600000000#clip.mp4.xml",
			want: AdFileRecord{BotName: "bot", TryNum: "1", AdSeenAt: 1600000000, VideoWatched: "clip.mp4"},
		},
		{
			name: "negative timestamp",
			path: "bot#1#-5#no.xml",
			want: AdFileRecord{BotName: "bot", TryNum: "1", AdSeenAt: -5, VideoWatched: "no"},
		},
		{name: "three fields", path: "bot#1#1600000000.xml", wantErr: true},
		{name: "five fields", path: "bot#1#1600000000#no#extra.xml", wantErr: true},
		{name: "timestamp not a number", path: "bot#1#yesterday#no.xml", wantErr: true},
		{name: "empty name", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAdFileRecord(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				var mfe *MalformedFilenameError
				assert.True(t, stderrors.As(err, &mfe))
				assert.ErrorIs(t, err, errors.ErrMalformedFilename)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func collect(t *testing.T, root string) ([]string, []error) {
	t.Helper()
	var runs []string
	var errs []error
	for run, err := range DiscoverRuns(root) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, errs
}

func TestDiscoverRuns(t *testing.T) {
	root := t.TempDir()

	touch(t, filepath.Join(root, "nyc", "hv-2#bot-1", "7", SentinelFile))
	touch(t, filepath.Join(root, "ams", "hv-1#bot-03", "42", SentinelFile))
	touch(t, filepath.Join(root, "ams", "hv-1#bot-03", "41", SentinelFile))
	// In progress: no sentinel yet.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ams", "hv-1#bot-03", "43"), 0o755))
	// Wrong depth.
	touch(t, filepath.Join(root, "ams", "hv-1#bot-03", SentinelFile))
	touch(t, filepath.Join(root, "ams", "deep#er", "1", "2", SentinelFile))
	// Sentinel name used for a directory.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lon", "a#b", "9", SentinelFile), 0o755))
	// Stray files at every level.
	touch(t, filepath.Join(root, "README"))
	touch(t, filepath.Join(root, "ams", "notes.txt"))

	runs, errs := collect(t, root)
	assert.Empty(t, errs)
	assert.Equal(t, []string{
		filepath.Join(root, "ams", "hv-1#bot-03", "41"),
		filepath.Join(root, "ams", "hv-1#bot-03", "42"),
		filepath.Join(root, "nyc", "hv-2#bot-1", "7"),
	}, runs)
}

func TestDiscoverRuns_YieldsMalformedHostDirs(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "ams", "nohash", "1", SentinelFile))

	runs, errs := collect(t, root)
	assert.Empty(t, errs)
	require.Len(t, runs, 1)

	_, err := ParseRunIdentity(runs[0])
	assert.ErrorIs(t, err, errors.ErrMalformedPath)
}

func TestDiscoverRuns_SkipsHiddenEntries(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, ".trash", "hv#bot", "3", SentinelFile))
	touch(t, filepath.Join(root, "ams", ".hv#bot", "4", SentinelFile))
	touch(t, filepath.Join(root, "ams", "hv#bot", ".5", SentinelFile))
	touch(t, filepath.Join(root, "ams", "hv#bot", "6", SentinelFile))

	runs, errs := collect(t, root)
	assert.Empty(t, errs)
	assert.Equal(t, []string{filepath.Join(root, "ams", "hv#bot", "6")}, runs)
}

func TestDiscoverRuns_FollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	elsewhere := t.TempDir()
	touch(t, filepath.Join(elsewhere, "hv#bot", "3", SentinelFile))

	require.NoError(t, os.MkdirAll(filepath.Join(root), 0o755))
	if err := os.Symlink(elsewhere, filepath.Join(root, "ams")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	runs, errs := collect(t, root)
	assert.Empty(t, errs)
	assert.Equal(t, []string{filepath.Join(root, "ams", "hv#bot", "3")}, runs)
}

func TestDiscoverRuns_MissingRoot(t *testing.T) {
	runs, errs := collect(t, filepath.Join(t.TempDir(), "absent"))
	assert.Empty(t, runs)
	require.Len(t, errs, 1)
	assert.True(t, errors.IsFatal(errs[0]))
	assert.ErrorIs(t, errs[0], os.ErrNotExist)
}

func TestDiscoverRuns_EmptyRoot(t *testing.T) {
	runs, errs := collect(t, t.TempDir())
	assert.Empty(t, runs)
	assert.Empty(t, errs)
}

func TestDiscoverRuns_StopsEarly(t *testing.T) {
	root := t.TempDir()
	for _, id := range []string{"1", "2", "3"} {
		touch(t, filepath.Join(root, "ams", "hv#bot", id, SentinelFile))
	}

	var seen []string
	for run, err := range DiscoverRuns(root) {
		require.NoError(t, err)
		seen = append(seen, filepath.Base(run))
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"1", "2"}, seen)
}
