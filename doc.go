// Package qkdcascade implements Cascade information reconciliation for
// quantum key distribution.
//
// After the quantum phase of QKD, Alice and Bob hold keys that differ in a
// small fraction of bits. Cascade lets Bob find and flip those bits by
// asking Alice for the parities of shuffled key ranges over an
// authenticated classical channel. Each answer leaks information to an
// eavesdropper, so the number of parity bits asked is the cost that the
// algorithm variations trade against speed and residual error.
//
// # Quick Start
//
// Reconcile against an in-memory Alice:
//
//	import "github.com/brunorijsman/qkd-cascade/pkg/cascade"
//
//	session, _, aliceKey, _ := cascade.NewMockSession(10000, keySeed, shuffleSeed, cascade.OriginalParameters)
//	bobKey, _ := aliceKey.CopyWithNoise(100, rng)
//	corrected, _ := session.CorrectKey(ctx, bobKey, 0.01)
//
// Reconcile over TCP:
//
//	import "github.com/brunorijsman/qkd-cascade/pkg/channel"
//
//	// Alice
//	srv, _ := channel.NewServer(aliceKey, channel.DefaultServerConfig())
//	go srv.Serve(listener)
//
//	// Bob
//	client, _ := channel.Dial(ctx, "alice:8484", channel.DefaultClientConfig())
//	session, _ := cascade.NewSession(cascade.Option8Parameters, client)
//	corrected, _ := session.CorrectKey(ctx, bobKey, 0.01)
//	match, _ := client.Verify(ctx, corrected)
//
// # Package Structure
//
//   - pkg/cascade: Reconciliation engine, algorithm presets and the mock channel
//   - pkg/channel: Classical channel client (Bob) and parity server (Alice)
//   - pkg/protocol: Wire message definitions and framing
//   - pkg/key: Bit-string keys with noise injection and fingerprints
//   - pkg/shuffle: Deterministic, seed-identified permutations
//   - pkg/crypto: Seeds, SHAKE-256 fingerprints and the shuffle XOF
//   - pkg/metrics: Counters, Prometheus export, tracing and logging
//   - internal/config: YAML configuration with CASCADE_* overrides
//   - cmd/cascade: Command line interface
//
// # Testing
//
//	go test ./...                                         # All tests
//	go test -fuzz=FuzzDecodeAskParity ./pkg/protocol     # Fuzz tests
//	go test -bench=. ./pkg/cascade                        # Benchmarks
//
// # References
//
//   - G. Brassard and L. Salvail, "Secret-Key Reconciliation by Public
//     Discussion", EUROCRYPT 1993
//   - J. Martinez-Mateo et al., "Demystifying the Information Reconciliation
//     Protocol Cascade", 2015
package qkdcascade
