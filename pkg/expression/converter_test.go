package expression

import (
	"reflect"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Converters", func() {
	Describe("Bool conversion", func() {
		It("should read a bool", func() {
			v, err := AsBool(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeTrue())
		})
		It("should err for invalid bool", func() {
			_, err := AsBool(int64(12))
			Expect(err).To(HaveOccurred())
			_, err = AsBool(nil)
			Expect(err).To(HaveOccurred())
		})
		It("should read a bool list", func() {
			vs, err := AsBoolList([]any{false, true, true})
			Expect(err).NotTo(HaveOccurred())
			Expect(vs).To(Equal([]bool{false, true, true}))
		})
		It("should err for invalid bool list", func() {
			_, err := AsBoolList([]any{false, int64(12), "a"})
			Expect(err).To(HaveOccurred())
			_, err = AsBoolList(true)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("String conversion", func() {
		It("should read a string", func() {
			v, err := AsString("foo")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("foo"))
		})
		It("should convert numbers to string", func() {
			v, err := AsString(int64(12))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("12"))
			v, err = AsString(1.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal("1.5"))
		})
		It("should err for invalid string", func() {
			_, err := AsString(nil)
			Expect(err).To(HaveOccurred())
			_, err = AsString(true)
			Expect(err).To(HaveOccurred())
		})
		It("should read a binary string list", func() {
			vs, err := AsBinaryStringList([]any{"a", "b"})
			Expect(err).NotTo(HaveOccurred())
			Expect(vs).To(Equal([]string{"a", "b"}))
		})
		It("should err for invalid binary string list", func() {
			_, err := AsBinaryStringList([]any{"a", "b", "c"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Int conversion", func() {
		It("should read an int", func() {
			v, err := AsInt(12)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int64(12)))
		})
		It("should read an int from a string", func() {
			v, err := AsInt("-3")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(int64(-3)))
		})
		It("should err for float", func() {
			_, err := AsInt(1.2)
			Expect(err).To(HaveOccurred())
		})
		It("should read an int list", func() {
			vs, err := AsIntList([]any{int64(1), int64(2)})
			Expect(err).NotTo(HaveOccurred())
			Expect(vs).To(Equal([]int64{1, 2}))
		})
	})

	Describe("Float conversion", func() {
		It("should read an int", func() {
			v, err := AsFloat(int64(2))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(2.0))
		})
		It("should read a float", func() {
			v, err := AsFloat(float32(0.5))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(0.5))
		})
		It("should err for invalid float", func() {
			_, err := AsFloat("x")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Int-or-float conversion", func() {
		It("should read an int list", func() {
			is, fs, kind, err := AsIntOrFloatList([]any{int64(1), int64(2)})
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(reflect.Int64))
			Expect(is).To(Equal([]int64{1, 2}))
			Expect(fs).To(BeNil())
		})
		It("should read a mixed list as floats", func() {
			is, fs, kind, err := AsIntOrFloatList([]any{int64(1), 2.5})
			Expect(err).NotTo(HaveOccurred())
			Expect(kind).To(Equal(reflect.Float64))
			Expect(is).To(BeNil())
			Expect(fs).To(Equal([]float64{1, 2.5}))
		})
		It("should err for a non-number", func() {
			_, _, _, err := AsIntOrFloatList([]any{int64(1), "a"})
			Expect(err).To(HaveOccurred())
		})
	})
})
