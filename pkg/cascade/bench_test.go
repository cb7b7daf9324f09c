package cascade

import (
	"context"
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// Run with:
//
//	go test -bench=. -benchmem ./pkg/cascade/

func benchmarkCorrectKey(b *testing.B, params Parameters, keySize, errors int) {
	b.Helper()
	ctx := context.Background()
	rate := float64(errors) / float64(keySize)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		s, _, alice, err := NewMockSession(keySize, uint64(i+1), uint64(i+2), params)
		if err != nil {
			b.Fatal(err)
		}
		bob, err := alice.CopyWithNoise(errors, crypto.NewRand(uint64(i+3)))
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		if _, err := s.CorrectKey(ctx, bob, rate); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCorrectKeyOriginal10K(b *testing.B) {
	benchmarkCorrectKey(b, OriginalParameters, 10000, 100)
}

func BenchmarkCorrectKeyYanetal10K(b *testing.B) {
	benchmarkCorrectKey(b, YanetalParameters, 10000, 100)
}

func BenchmarkCorrectKeyOption7_10K(b *testing.B) {
	benchmarkCorrectKey(b, Option7Parameters, 10000, 100)
}

func BenchmarkCorrectKeyOption8_10K(b *testing.B) {
	benchmarkCorrectKey(b, Option8Parameters, 10000, 100)
}

func BenchmarkCorrectKeyOriginal100K(b *testing.B) {
	benchmarkCorrectKey(b, OriginalParameters, 100000, 1000)
}

func BenchmarkShuffleFromSeed(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = shuffle.FromSeed(10000, uint64(i))
	}
}

func BenchmarkCorrectKeyParallel(b *testing.B) {
	ctx := context.Background()
	b.RunParallel(func(pb *testing.PB) {
		seed := crypto.SecureSeed()
		for pb.Next() {
			seed++
			s, _, alice, err := NewMockSession(10000, seed, seed+1, OriginalParameters)
			if err != nil {
				b.Error(err)
				return
			}
			bob, _ := alice.CopyWithNoise(100, crypto.NewRand(seed))
			if _, err := s.CorrectKey(ctx, bob, 0.01); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
