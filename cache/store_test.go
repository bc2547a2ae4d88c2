package cache

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"github.com/skipor/kvcache/log"
	. "github.com/skipor/kvcache/testutil"
)

var _ = Describe("Store without logger", func() {
	It("evicts", func() {
		s := New(nil, Config{Capacity: 10}, NewFIFO())
		Expect(s.Set("A", []byte("a"), 6)).To(Succeed())
		Expect(s.Set("B", []byte("b"), 6)).To(Succeed())
		ExpectAbsent(s, "A")
		ExpectEntry(s, "B", "b", 6)
		s.ExpectInvariantsOk()
	})
})

var _ = Describe("Store", func() {
	const capacity = 10
	var (
		s       *Store
		policy  Policy
		evicted map[string]int64
	)
	BeforeEach(func() {
		resetTestKeys()
		policy = nil
		evicted = map[string]int64{}
	})
	JustBeforeEach(func() {
		conf := Config{
			Capacity: capacity,
			OnEvict:  func(key string, size int64) { evicted[key] = size },
		}
		s = New(log.NewLogger(log.DebugLevel, GinkgoWriter), conf, policy)
	})
	AfterEach(func() { s.ExpectInvariantsOk() })

	Set := func(key, value string, size int64) {
		ExpectWithOffset(1, s.Set(key, []byte(value), size)).To(Succeed())
	}

	Context("without policy", func() {
		It("init", func() {
			Expect(s.SpaceUsed()).To(BeZero())
			Expect(s.Len()).To(BeZero())
			Expect(s.Capacity()).To(BeEquivalentTo(capacity))
		})

		It("get what set", func() {
			Set("K1", "V1", 5)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(5))
			ExpectEntry(s, "K1", "V1", 5)
		})

		It("size is not value length", func() {
			Set("K", "very long value", 1)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(1))
			ExpectEntry(s, "K", "very long value", 1)
		})

		It("scenario", func() {
			Set("K1", "V1", 5)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(5))
			Expect(s.Set("K2", []byte("V2"), 6)).To(Equal(ErrNoSpace))
			Expect(s.SpaceUsed()).To(BeEquivalentTo(5))
			ExpectEntry(s, "K1", "V1", 5)
			ExpectAbsent(s, "K2")
			Expect(s.Delete("K1")).To(BeTrue())
			Expect(s.SpaceUsed()).To(BeZero())
		})

		It("overflow rejected and previous entries retrievable", func() {
			Set("A", "a", 4)
			Set("B", "b", 4)
			Expect(s.Set("C", []byte("c"), 3)).To(Equal(ErrNoSpace))
			Expect(s.SpaceUsed()).To(BeEquivalentTo(8))
			ExpectEntry(s, "A", "a", 4)
			ExpectEntry(s, "B", "b", 4)
			ExpectAbsent(s, "C")
		})

		It("too large set is no-op", func() {
			Set("A", "a", 4)
			Expect(s.Set("B", []byte("b"), capacity+1)).To(Equal(ErrTooLarge))
			Expect(s.Set("A", []byte("b"), capacity+1)).To(Equal(ErrTooLarge))
			Expect(s.SpaceUsed()).To(BeEquivalentTo(4))
			ExpectEntry(s, "A", "a", 4)
			ExpectAbsent(s, "B")
		})

		It("negative size rejected", func() {
			Expect(s.Set("A", []byte("a"), -1)).To(Equal(ErrInvalidSize))
			ExpectAbsent(s, "A")
		})

		It("full capacity entry fits", func() {
			Set("A", "a", capacity)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(capacity))
			Set("Z", "", 0)
			ExpectEntry(s, "Z", "", 0)
		})

		It("overwrite with smaller size", func() {
			Set("A", "ItemA", 5)
			Set("B", "ItemB", 5)
			Set("A", "Ab", 3)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(8))
			ExpectEntry(s, "A", "Ab", 3)
			ExpectEntry(s, "B", "ItemB", 5)
		})

		It("overwrite with larger size, that fits only without old value", func() {
			Set("A", "a", 4)
			Set("B", "b", 4)
			Set("A", "aa", 6)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(capacity))
			Expect(s.Set("A", []byte("aaa"), 7)).To(Equal(ErrNoSpace))
			ExpectEntry(s, "A", "aa", 6)
		})

		It("get miss does not change used", func() {
			Set("A", "a", 4)
			ExpectAbsent(s, "B")
			Expect(s.SpaceUsed()).To(BeEquivalentTo(4))
		})

		It("delete", func() {
			Set("A", "a", 4)
			Expect(s.Delete("B")).To(BeFalse())
			Expect(s.SpaceUsed()).To(BeEquivalentTo(4))
			Expect(s.Delete("A")).To(BeTrue())
			Expect(s.Delete("A")).To(BeFalse())
			Expect(s.SpaceUsed()).To(BeZero())
			ExpectAbsent(s, "A")
		})

		It("reset", func() {
			Set("A", "a", 4)
			Set("B", "b", 3)
			s.Reset()
			Expect(s.SpaceUsed()).To(BeZero())
			Expect(s.Len()).To(BeZero())
			ExpectAbsent(s, "A")
			ExpectAbsent(s, "B")
			Set("A", "a", capacity)
		})

		It("stored value is a copy", func() {
			value := []byte("value")
			Expect(s.Set("A", value, 1)).To(Succeed())
			value[0] = 'X'
			got, _, _ := s.Get("A")
			Expect(string(got)).To(Equal("value"))
			got[0] = 'Y'
			ExpectEntry(s, "A", "value", 1)
		})
	})

	Context("FIFO", func() {
		BeforeEach(func() { policy = NewFIFO() })

		It("scenario", func() {
			Set("A", "a", 4)
			Set("B", "b", 3)
			Set("C", "c", 3)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(capacity))

			Set("D", "d", 4)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(10))
			ExpectAbsent(s, "A")
			ExpectEntry(s, "B", "b", 3)
			ExpectEntry(s, "C", "c", 3)
			ExpectEntry(s, "D", "d", 4)
			Expect(evicted).To(Equal(map[string]int64{"A": 4}))
		})

		It("evicts from the front until room exists", func() {
			Set("A", "a", 4)
			Set("D", "d", 2)
			Set("B", "b", 3)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(9))
			Set("C", "c", 7)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(10))
			ExpectAbsent(s, "A")
			ExpectAbsent(s, "D")
			ExpectEntry(s, "B", "b", 3)
			ExpectEntry(s, "C", "c", 7)
		})

		It("evict all", func() {
			Set("A", "a", 4)
			Set("B", "b", 3)
			Set("C", "c", 3)
			Set("D", "d", capacity)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(capacity))
			for _, k := range []string{"A", "B", "C"} {
				ExpectAbsent(s, k)
			}
			ExpectEntry(s, "D", "d", capacity)
		})

		It("deleted entry is not evicted twice", func() {
			Set("A", "a", 4)
			Set("B", "b", 3)
			Expect(s.Delete("A")).To(BeTrue())
			Expect(s.SpaceUsed()).To(BeEquivalentTo(3))
			Set("C", "c", 7)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(10))
			ExpectEntry(s, "B", "b", 3)
			Expect(evicted).To(BeEmpty())
		})

		It("stale touches after delete are skipped", func() {
			Set("A", "a", 4)
			Set("B", "b", 3)
			Expect(s.Delete("A")).To(BeTrue())
			Set("C", "c", 3)
			Set("D", "d", 5)
			// Queue: A (stale), B, C, D. B evicted, C and D stay.
			Expect(evicted).To(Equal(map[string]int64{"B": 3}))
			ExpectEntry(s, "C", "c", 3)
			ExpectEntry(s, "D", "d", 5)
		})

		It("get refreshes by adding touch", func() {
			Set("A", "a", 5)
			Set("B", "b", 5)
			ExpectEntry(s, "A", "a", 5)
			// Queue: A, B, A. First A occurrence evicts A.
			Set("C", "c", 5)
			ExpectAbsent(s, "A")
			ExpectEntry(s, "B", "b", 5)
		})

		It("too large set does not evict", func() {
			Set("B", "b", 3)
			Set("C", "c", 4)
			Expect(s.Set("A", []byte("a"), 16)).To(Equal(ErrTooLarge))
			Expect(s.SpaceUsed()).To(BeEquivalentTo(7))
			ExpectEntry(s, "B", "b", 3)
			ExpectEntry(s, "C", "c", 4)
		})

		It("overwrite with smaller size does not evict", func() {
			Set("A", "a", 5)
			Set("B", "b", 5)
			Set("A", "a", 2)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(7))
			ExpectEntry(s, "B", "b", 5)
			Expect(evicted).To(BeEmpty())
		})

		It("zero size never evicts", func() {
			Set("A", "a", capacity)
			for i := 0; i < 5; i++ {
				Set(testKey(), "", 0)
			}
			ExpectEntry(s, "A", "a", capacity)
			Expect(s.Len()).To(Equal(6))
			Expect(evicted).To(BeEmpty())
		})

		It("overwritten key evicted itself", func() {
			Set("A", "a", 4)
			Set("B", "b", 4)
			// A is the oldest: it is evicted, and set becomes insert of new key.
			Set("A", "aa", 8)
			Expect(s.SpaceUsed()).To(BeEquivalentTo(8))
			ExpectEntry(s, "A", "aa", 8)
			ExpectAbsent(s, "B")
		})

		It("reset keeps policy history harmless", func() {
			Set("A", "a", 5)
			Set("B", "b", 5)
			s.Reset()
			Set("C", "c", 5)
			Set("D", "d", 5)
			Set("E", "e", 5)
			// Stale A and B evicted first, then C.
			ExpectAbsent(s, "C")
			ExpectEntry(s, "D", "d", 5)
			ExpectEntry(s, "E", "e", 5)
		})
	})

	Context("LRU", func() {
		BeforeEach(func() { policy = NewLRU() })

		It("get refreshes recency", func() {
			Set("A", "a", 3)
			Set("B", "b", 3)
			Set("C", "c", 3)
			ExpectEntry(s, "A", "a", 3)
			Set("D", "d", 3)
			ExpectAbsent(s, "B")
			ExpectEntry(s, "A", "a", 3)
			ExpectEntry(s, "C", "c", 3)
			ExpectEntry(s, "D", "d", 3)
		})

		It("overwrite refreshes recency", func() {
			Set("A", "a", 5)
			Set("B", "b", 5)
			Set("A", "a2", 5)
			Set("C", "c", 5)
			ExpectAbsent(s, "B")
			ExpectEntry(s, "A", "a2", 5)
		})

		It("evicts deleted key silently", func() {
			Set("A", "a", 5)
			Set("B", "b", 5)
			Expect(s.Delete("A")).To(BeTrue())
			Set("C", "c", 5)
			Expect(evicted).To(BeEmpty())
			Set("D", "d", 5)
			Expect(evicted).To(Equal(map[string]int64{"B": 5}))
		})
	})

	Context("with mock policy", func() {
		var mp *MockPolicy
		BeforeEach(func() {
			mp = &MockPolicy{}
			policy = mp
		})
		AfterEach(func() { mp.AssertExpectations(GinkgoT()) })

		It("touch on set and get hit only", func() {
			mp.On("Touch", "A").Twice()
			Set("A", "a", 1)
			ExpectEntry(s, "A", "a", 1)
			ExpectAbsent(s, "B")
		})

		It("delete does not inform policy", func() {
			mp.On("Touch", "A").Once()
			Set("A", "a", 1)
			Expect(s.Delete("A")).To(BeTrue())
		})

		It("absent evicted keys are skipped", func() {
			mp.On("Touch", mock.Anything)
			Set("A", "a", 6)
			mp.On("Evict").Return("X", nil).Once()
			mp.On("Evict").Return("A", nil).Once()
			Set("B", "b", 6)
			ExpectAbsent(s, "A")
			Expect(s.SpaceUsed()).To(BeEquivalentTo(6))
		})

		It("empty policy fails set", func() {
			mp.On("Touch", "A").Once()
			Set("A", "a", 6)
			mp.On("Evict").Return("", ErrEmptyPolicy).Once()
			err := s.Set("B", []byte("b"), 6)
			Expect(errors.Cause(err)).To(Equal(ErrEmptyPolicy))
			ExpectAbsent(s, "B")
			Expect(s.SpaceUsed()).To(BeEquivalentTo(6))
		})
	})

	Context("random operations", func() {
		Test := func(name string, newPolicy func() Policy) {
			Context(name, func() {
				BeforeEach(func() { policy = newPolicy() })
				It("invariants hold", func() {
					model := map[string]int64{}
					keys := []string{"a", "b", "c", "d", "e", "f"}
					for i := 0; i < 2000; i++ {
						key := keys[Rand.Intn(len(keys))]
						switch p := Rand.Intn(100); {
						case p < 50:
							var value []byte
							Fuzz(&value)
							size := Rand.Int63n(capacity + 3)
							err := s.Set(key, value, size)
							if err == nil {
								model[key] = size
							} else if policy != nil && size <= capacity {
								Fail("set failed with policy: " + err.Error())
							}
						case p < 75:
							s.Delete(key)
							delete(model, key)
						case p < 99:
							_, size, ok := s.Get(key)
							if ok {
								Expect(size).To(Equal(model[key]))
							}
						default:
							s.Reset()
							model = map[string]int64{}
						}
						// Evicted entries are gone from the model.
						for k := range model {
							if _, ok := s.table[k]; !ok {
								Expect(policy).NotTo(BeNil(), "entry disappeared without policy")
								delete(model, k)
							}
						}
						var used int64
						for _, size := range model {
							used += size
						}
						Expect(s.SpaceUsed()).To(Equal(used))
						Expect(s.SpaceUsed()).To(BeNumerically("<=", capacity))
						Expect(s.Len()).To(Equal(len(model)))
					}
				})
			})
		}
		Test("without policy", func() Policy { return nil })
		Test("FIFO", func() Policy { return NewFIFO() })
		Test("LRU", func() Policy { return NewLRU() })
	})
})

var _ = Describe("Locked", func() {
	It("concurrent access keeps invariants", func() {
		s := New(log.NewNop(), Config{Capacity: 100}, NewLRU())
		l := NewLocked(s)
		const workers = 8
		done := make(chan struct{})
		for w := 0; w < workers; w++ {
			go func(w int) {
				defer GinkgoRecover()
				defer func() { done <- struct{}{} }()
				for i := 0; i < 500; i++ {
					key := string(rune('a' + (w+i)%16))
					switch i % 4 {
					case 0, 1:
						Expect(l.Set(key, []byte(key), int64(i%20))).To(Succeed())
					case 2:
						l.Get(key)
					case 3:
						l.Delete(key)
					}
					Expect(l.SpaceUsed()).To(BeNumerically("<=", 100))
				}
			}(w)
		}
		for w := 0; w < workers; w++ {
			<-done
		}
		s.ExpectInvariantsOk()
		l.Reset()
		Expect(l.SpaceUsed()).To(BeZero())
	})
})
