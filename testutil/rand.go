package testutil

import (
	"math/rand"

	fuzz "github.com/google/gofuzz"
	. "github.com/onsi/ginkgo"
)

var RandSource = rand.NewSource(GinkgoRandomSeed())
var Rand = rand.New(RandSource)
var Fuzzer = func() *fuzz.Fuzzer {
	f := fuzz.New()
	f.RandSource(RandSource)
	return f
}()
var Fuzz = Fuzzer.Fuzz

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns random alphanumeric string of length n.
func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[Rand.Intn(len(letters))]
	}
	return string(b)
}

// RandBytes returns n arbitrary bytes.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	Rand.Read(b)
	return b
}
