/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/domain"
	"github.com/kentakayama/zeus-over-http/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegistry() model.Registry {
	offset := int64(12)
	return model.Registry{
		"k64f": {
			CurrentVersion: 5,
			SignUtilRef:    "/usr/local/bin/hugin",
			Payloads: map[model.Version]model.VersionPayload{
				3: {
					PublicKey:         model.HexBytes{0xde, 0xad, 0xbe, 0xef},
					PrivateKeyRef:     "update/k64f/priv_3",
					DeltaManifestPath: "update/k64f/manifest1_3",
					FullManifestPath:  "update/k64f/manifest2_3",
				},
				4: {
					PublicKey:                model.HexBytes{0x01, 0x02},
					PrivateKeyRef:            "update/k64f/priv_4",
					DeltaManifestPath:        "update/k64f/manifest1_4",
					FullManifestPath:         "update/k64f/manifest2_4",
					VerificationHashes:       []string{"00112233", "aabb"},
					VerificationSpliceOffset: &offset,
				},
			},
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for _, name := range []string{"update.json", "update.cbor"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(filepath.Join(t.TempDir(), name))

			want := sampleRegistry()
			require.NoError(t, store.Save(ctx, want))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStore_JSONLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "update.json")
	store := NewStore(path)
	require.NoError(t, store.Save(ctx, sampleRegistry()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(raw)
	assert.Contains(t, s, `"currentVersion": "5"`)
	assert.Contains(t, s, `"sign_util": "/usr/local/bin/hugin"`)
	assert.Contains(t, s, `"publicKey": "deadbeef"`)
	assert.Contains(t, s, `"verificationIndex": 12`)
	assert.Contains(t, s, `"3": {`)
}

func TestStore_LoadLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	doc := `{
	"k64f": {
		"sign_util": "hugin",
		"currentVersion": 2,
		"payload": {
			"1": {
				"publicKey": "0a0b",
				"privateKey": "k64f/priv_1",
				"manifest1": "k64f/manifest1_1",
				"manifest2": "k64f/manifest2_1"
			}
		}
	}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := NewStore(path).Load(context.Background())
	require.NoError(t, err)
	rec := reg["k64f"]
	require.NotNil(t, rec)
	assert.Equal(t, model.Version(2), rec.CurrentVersion)
	p, ok := rec.Payload(1)
	require.True(t, ok)
	assert.Equal(t, model.HexBytes{0x0a, 0x0b}, p.PublicKey)
}

func TestStore_LoadMissing(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "update.json")).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRegistryUnreadable))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestStore_LoadGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStore(path).Load(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRegistryUnreadable))
}

func TestStore_LoadRejectsBrokenInvariant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	doc := `{"d": {"sign_util": "s", "currentVersion": "2", "payload": {"1": {
		"publicKey": "00", "privateKey": "p", "manifest1": "m1", "manifest2": "m2",
		"verification": ["0011"]}}}}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := NewStore(path).Load(context.Background())
	assert.True(t, errors.Is(err, domain.ErrRegistryUnreadable))
}

func TestStore_SaveFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "update.json")
	store := NewStore(path)
	require.NoError(t, store.Save(ctx, sampleRegistry()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// the parent directory does not exist, so no temporary file can be created
	broken := NewStore(filepath.Join(dir, "missing", "update.json"))
	err = broken.Save(ctx, model.Registry{})
	assert.True(t, errors.Is(err, domain.ErrRegistryWriteFailed))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestBackup_RestoreAndDiscard(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "update.json")
	store := NewStore(path)
	require.NoError(t, store.Save(ctx, sampleRegistry()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	b, err := store.Backup()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, model.Registry{}))
	require.NoError(t, b.Restore())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, b.Discard())
	_, err = os.Stat(path + backupSuffix)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestBackup_NoPriorFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "update.json")
	store := NewStore(path)

	b, err := store.Backup()
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sampleRegistry()))
	require.NoError(t, b.Restore())

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestStore_EmptyVerificationSurvivesSave(t *testing.T) {
	for _, name := range []string{"update.json", "update.cbor"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(filepath.Join(t.TempDir(), name))

			off := int64(4)
			want := model.Registry{
				"dev": {
					CurrentVersion: 3,
					SignUtilRef:    "builtin:cose",
					Payloads: map[model.Version]model.VersionPayload{
						2: {
							PublicKey:                model.HexBytes{0x01},
							PrivateKeyRef:            "dev/priv_2",
							DeltaManifestPath:        "dev/manifest1_2",
							FullManifestPath:         "dev/manifest2_2",
							VerificationHashes:       []string{},
							VerificationSpliceOffset: &off,
						},
					},
				},
			}
			require.NoError(t, store.Save(ctx, want))

			got, err := store.Load(ctx)
			require.NoError(t, err)
			p := got["dev"].Payloads[2]
			require.NotNil(t, p.VerificationHashes)
			assert.Empty(t, p.VerificationHashes)
			require.NotNil(t, p.VerificationSpliceOffset)
			assert.Equal(t, int64(4), *p.VerificationSpliceOffset)
		})
	}
}

func TestStore_JSONOmitsAbsentVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	reg := sampleRegistry()
	delete(reg["k64f"].Payloads, 4)
	require.NoError(t, NewStore(path).Save(context.Background(), reg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "verification")
}

func TestStore_LockExcludesOtherStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	require.NoError(t, NewStore(path).Save(context.Background(), sampleRegistry()))

	// two stores on one file stand in for the server and an import process
	writer := NewStore(path)
	reader := NewStore(path)

	require.NoError(t, writer.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	called := false
	err := reader.View(ctx, func(model.Registry) error { called = true; return nil })
	assert.True(t, errors.Is(err, domain.ErrRegistryUnreadable))
	assert.True(t, errors.Is(err, ErrLockFailed))
	assert.False(t, called)

	require.NoError(t, writer.Unlock())
	assert.NoError(t, reader.View(context.Background(), func(model.Registry) error { return nil }))

	// and the other way round: a reader keeps a writer out
	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- reader.View(context.Background(), func(model.Registry) error {
			close(inside)
			<-release
			return nil
		})
	}()
	<-inside

	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	assert.True(t, errors.Is(writer.Lock(ctx2), ErrLockFailed))

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, writer.Lock(context.Background()))
	require.NoError(t, writer.Unlock())
}

func TestStore_ViewsShareTheLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "update.json")
	store := NewStore(path)
	require.NoError(t, store.Save(context.Background(), sampleRegistry()))

	const n = 4
	var entered sync.WaitGroup
	entered.Add(n)
	errs := make(chan error, n)
	for range n {
		go func() {
			errs <- store.View(context.Background(), func(model.Registry) error {
				entered.Done()
				// every reader waits for all the others to be inside too
				entered.Wait()
				return nil
			})
		}()
	}
	for range n {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("readers did not share the registry lock")
		}
	}

	require.NoError(t, store.Lock(context.Background()))
	require.NoError(t, store.Unlock())
}

func TestStore_ViewMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing", "update.json"))
	err := store.View(context.Background(), func(model.Registry) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrRegistryUnreadable))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
