//go:build debug
// +build debug

// Gomega should not be dependency in non-debug build.

package cache

import (
	"errors"
	"log"

	"github.com/facebookgo/stackerr"
	. "github.com/onsi/gomega"
)

var _ = func() (_ struct{}) {
	RegisterFailHandler(GomegaFailHandler)
	return
}()

func GomegaFailHandler(message string, callerSkip ...int) {
	skip := 1
	if len(callerSkip) > 0 {
		skip += callerSkip[0]
	}
	log.Fatal("FATAL: invariants are broken:", stackerr.WrapSkip(errors.New(message), skip))
}

func (s *Store) checkInvariants() {
	var used int64
	for k, e := range s.table {
		Expect(e.size).To(BeNumerically(">=", 0), k)
		used += e.size
	}
	ExpectWithOffset(1, s.used).To(Equal(used), "used is not equal to sum of entry sizes")
	ExpectWithOffset(1, s.totalOverflow()).To(BeFalse(), "total overflow")
}
