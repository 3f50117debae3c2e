package keys

import "testing"

var sink string

func BenchmarkKeys_Queue(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sink = Queue("default")
	}
}

func BenchmarkKeys_Unique(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sink = Unique("default", "PaymentReportWorker", "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	}
}
