package sidekiq

import (
	"strings"
	"testing"
)

func benchArgs(size string) any {
	switch size {
	case "Small":
		return []any{"USR-123", 42}
	case "Medium":
		return []any{map[string]any{
			"user_guid": "USR-123",
			"amounts":   []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			"meta":      map[string]string{"a": "1", "b": "2", "c": "3"},
		}}
	default:
		tags := make([]string, 64)
		for i := range tags {
			tags[i] = "tag-" + strings.Repeat("x", i%16)
		}
		scores := make([]int, 256)
		for i := range scores {
			scores[i] = i
		}
		return []any{tags, scores, strings.Repeat("payload", 256)}
	}
}

func BenchmarkJob_Serialize(b *testing.B) {
	for _, size := range []string{"Small", "Medium", "Large"} {
		b.Run(size, func(b *testing.B) {
			j, err := NewJob("PaymentReportWorker", "yolo", benchArgs(size))
			if err != nil {
				b.Fatal(err)
			}
			warm, _ := j.Serialize()
			b.ReportAllocs()
			b.SetBytes(int64(len(warm)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := j.Serialize(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkJob_Deserialize(b *testing.B) {
	for _, size := range []string{"Small", "Medium", "Large"} {
		b.Run(size, func(b *testing.B) {
			j, err := NewJob("PaymentReportWorker", "yolo", benchArgs(size))
			if err != nil {
				b.Fatal(err)
			}
			raw, _ := j.Serialize()
			b.ReportAllocs()
			b.SetBytes(int64(len(raw)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Deserialize(raw); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkJob_Fingerprint(b *testing.B) {
	j, err := NewJob("PaymentReportWorker", "yolo", benchArgs("Medium"))
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = j.Fingerprint()
	}
}
