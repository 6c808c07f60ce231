/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package importer

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/zeus-over-http/internal/registry"
	"github.com/kentakayama/zeus-over-http/internal/signer"
	"github.com/kentakayama/zeus-over-http/internal/update"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUpdateSet(t *testing.T, delta string) string {
	t.Helper()
	dir := t.TempDir()
	spec := `{"currentVersion": "3", "payload": {"2": {
		"manifest1": "delta.bin", "manifest2": "full.bin",
		"publicKey": "0102", "privateKey": "KEY"}}}`
	for name, body := range map[string]string{
		"update.json": spec,
		"delta.bin":   delta,
		"full.bin":    "full " + delta,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

// Deliveries running while a separate process imports must see either the
// previous or the new update set, never a device directory in transition.
func TestImport_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	regPath := filepath.Join(out, "update.json")
	sets := map[string]string{
		"old-delta": writeUpdateSet(t, "old-delta"),
		"new-delta": writeUpdateSet(t, "new-delta"),
	}

	// the importer and the server each own a store, as two processes would
	im := &Importer{Store: registry.NewStore(regPath), Confirm: func(string) bool { return true }}
	runImport := func(delta string) {
		spec, err := ReadSpec(sets[delta])
		require.NoError(t, err)
		_, err = im.Import(ctx, Request{Device: "thermo", SourceDir: sets[delta], Spec: spec, OutputRoot: out, SignUtil: "builtin:cose"})
		require.NoError(t, err)
	}
	runImport("old-delta")

	sig := []byte("SIG")
	svc := update.NewService(registry.NewStore(regPath), signer.Static{Signer: signer.SignerFunc(
		func(context.Context, []byte, string) ([]byte, error) { return sig, nil },
	)}, nil, nil)
	nonce := base64.StdEncoding.EncodeToString(make([]byte, update.NonceSize))

	var (
		mu       sync.Mutex
		failures []string
		served   int
	)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				var body bytes.Buffer
				d, err := svc.PrepareManifest(ctx, update.Request{Device: "thermo", Version: 2}, nonce)
				if err == nil {
					_, err = d.WriteTo(&body)
				}

				mu.Lock()
				switch {
				case err != nil:
					failures = append(failures, err.Error())
				case !strings.HasPrefix(body.String(), "old-delta") && !strings.HasPrefix(body.String(), "new-delta"):
					failures = append(failures, "unexpected body "+body.String())
				case body.Len() != len("old-delta")+len(sig)+8:
					failures = append(failures, "unexpected length "+body.String())
				default:
					served++
				}
				mu.Unlock()
			}
		}()
	}

	for i := range 6 {
		if i%2 == 0 {
			runImport("new-delta")
		} else {
			runImport("old-delta")
		}
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return served > 0
	}, 5*time.Second, 10*time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Empty(t, failures)
	assert.Positive(t, served)
}
