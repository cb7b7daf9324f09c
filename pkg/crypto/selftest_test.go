package crypto_test

import (
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
)

func TestSelfTestPassed(t *testing.T) {
	if !crypto.SelfTestPassed() {
		t.Errorf("self-test failed: %v", crypto.RunSelfTest().Errors)
	}
}

func TestRunSelfTest(t *testing.T) {
	result := crypto.RunSelfTest()
	if result == nil {
		t.Fatal("RunSelfTest() returned nil")
	}
	if !result.KDFPassed {
		t.Error("KDF known answer test should have passed")
	}
	if !result.XOFPassed {
		t.Error("XOF cross-check should have passed")
	}
	if !result.RNGPassed {
		t.Error("RNG health check should have passed")
	}
	if len(result.Errors) > 0 {
		t.Errorf("self-test reported errors: %v", result.Errors)
	}
}

func TestRunSelfTestIdempotent(t *testing.T) {
	if crypto.RunSelfTest() != crypto.RunSelfTest() {
		t.Error("RunSelfTest() should return the same result on subsequent calls")
	}
}

func TestSelfTestMode(t *testing.T) {
	if crypto.FIPSMode() {
		t.Log("fips build: self-test failures panic at load")
	}
}
