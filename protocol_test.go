package kvcache

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	. "github.com/skipor/kvcache/testutil"
)

var _ = Describe("Request", func() {
	It("plain fields encoded as is", func() {
		r := Request{Op: OpSet, Key: "key", Value: []byte("value"), Size: 5}
		Expect(r.Body()).To(Equal("/key/value/5"))
		Expect(r.Target()).To(Equal("/key/value/5"))
		Expect((&Request{Op: OpGet, Key: "key"}).Body()).To(Equal("/key"))
		Expect((&Request{Op: OpDelete, Key: "key"}).Body()).To(Equal("/key"))
		Expect((&Request{Op: OpReset}).Body()).To(Equal("/reset"))
		r = Request{Op: OpSpaceUsed}
		Expect(r.Body()).To(BeEmpty())
		Expect(r.Target()).To(Equal("/"))
	})

	It("methods", func() {
		for op, method := range map[Op]string{
			OpSet:       "PUT",
			OpGet:       "GET",
			OpDelete:    "DELETE",
			OpReset:     "POST",
			OpSpaceUsed: "HEAD",
		} {
			Expect(op.Method()).To(Equal(method))
			parsed, err := methodOp(method)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(op))
		}
		_, err := methodOp("PATCH")
		Expect(err).To(Equal(ErrUnknownMethod))
	})

	Context("parse", func() {
		ExpectParsed := func(r Request) {
			parsed, err := ParseRequest(r.Op, r.Body())
			ExpectWithOffset(1, err).NotTo(HaveOccurred())
			ExpectWithOffset(1, parsed.Op).To(Equal(r.Op))
			ExpectWithOffset(1, parsed.Key).To(Equal(r.Key))
			ExpectBytesEqualWithOffset(1, parsed.Value, r.Value)
			ExpectWithOffset(1, parsed.Size).To(Equal(r.Size))
		}

		It("round trip", func() {
			ExpectParsed(Request{Op: OpSet, Key: "k", Value: []byte("v"), Size: 1})
			ExpectParsed(Request{Op: OpSet, Key: "k", Value: []byte{}, Size: 0})
			ExpectParsed(Request{Op: OpGet, Key: "k"})
			ExpectParsed(Request{Op: OpDelete, Key: "k"})
			ExpectParsed(Request{Op: OpReset})
			ExpectParsed(Request{Op: OpSpaceUsed})
		})

		It("delimiters in fields round trip", func() {
			ExpectParsed(Request{Op: OpSet, Key: `a/b "c"`, Value: []byte(`x/y, "z": w%`), Size: 3})
			ExpectParsed(Request{Op: OpGet, Key: "/"})
		})

		It("random fields round trip", func() {
			for i := 0; i < 100; i++ {
				var key string
				var value []byte
				Fuzz(&key)
				Fuzz(&value)
				if key == "" {
					key = "k"
				}
				ExpectParsed(Request{Op: OpSet, Key: key, Value: value, Size: Rand.Int63()})
			}
		})

		ExpectMalformed := func(op Op, body string) {
			_, err := ParseRequest(op, body)
			ExpectWithOffset(1, errors.Cause(err)).To(Equal(ErrMalformedBody), "body %q", body)
		}

		It("fails closed", func() {
			ExpectMalformed(OpSet, "")
			ExpectMalformed(OpSet, "k/v/1")
			ExpectMalformed(OpSet, "/k/v")
			ExpectMalformed(OpSet, "/k/v/1/")
			ExpectMalformed(OpSet, "/k/v/1/2")
			ExpectMalformed(OpSet, "/k/v/-1")
			ExpectMalformed(OpSet, "/k/v/x")
			ExpectMalformed(OpSet, "/k/v/")
			ExpectMalformed(OpSet, "/k/%zz/1")
			ExpectMalformed(OpSet, "/%/v/1")
			ExpectMalformed(OpGet, "/a/b")
			ExpectMalformed(OpGet, "")
			ExpectMalformed(OpDelete, "/a/")
			ExpectMalformed(OpReset, "/reset/")
			ExpectMalformed(OpReset, "")
		})

		It("empty key", func() {
			_, err := ParseRequest(OpGet, "/")
			Expect(err).To(Equal(ErrEmptyKey))
			_, err = ParseRequest(OpSet, "//v/1")
			Expect(err).To(Equal(ErrEmptyKey))
		})

		It("unknown reset target", func() {
			_, err := ParseRequest(OpReset, "/foo")
			Expect(errors.Cause(err)).To(Equal(ErrUnknownTarget))
		})

		It("space used ignores body", func() {
			r, err := ParseRequest(OpSpaceUsed, "garbage")
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Op).To(Equal(OpSpaceUsed))
		})
	})
})

var _ = Describe("get body", func() {
	It("plain encoding", func() {
		Expect(encodeGetBody("K", []byte("V"), 5)).To(Equal(`"key": "K", "value": "V", "size": "5"`))
	})

	It("round trip", func() {
		for _, value := range []string{"", "V", `"quoted", value`, "a/b:c"} {
			key, v, size, ok, err := decodeGetBody(encodeGetBody(`k"1`, []byte(value), 42))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal(`k"1`))
			Expect(string(v)).To(Equal(value))
			Expect(size).To(BeEquivalentTo(42))
		}
	})

	It("null is miss", func() {
		_, v, size, ok, err := decodeGetBody(NullResponse)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(v).To(BeNil())
		Expect(size).To(BeZero())
	})

	It("malformed", func() {
		valid := encodeGetBody("K", []byte("V"), 5)
		for _, body := range []string{
			"",
			"null",
			strings.Replace(valid, "key", "kee", 1),
			strings.Replace(valid, `: "`, `:"`, 1),
			strings.Replace(valid, `"5"`, `"x"`, 1),
			strings.Replace(valid, `"V"`, `"%zz"`, 1),
			valid + `"`,
			" " + valid,
		} {
			_, _, _, _, err := decodeGetBody(body)
			Expect(err).To(HaveOccurred(), "body %q", body)
		}
	})
})

var _ = Describe("bool body", func() {
	It("round trip", func() {
		for _, b := range []bool{true, false} {
			parsed, err := parseBoolBody(boolBody(b))
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(b))
		}
		_, err := parseBoolBody("true")
		Expect(err).To(HaveOccurred())
	})
})
