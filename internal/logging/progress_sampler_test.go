package logging

import "testing"

func TestNewProgressSampler(t *testing.T) {
	tests := []struct {
		name       string
		bucketSize float64
		wantSize   float64
	}{
		{"default bucket size for zero", 0, 5},
		{"default bucket size for negative", -1, 5},
		{"custom bucket size", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucketSize)
			if s.bucketSize != tt.wantSize {
				t.Errorf("bucketSize = %v, want %v", s.bucketSize, tt.wantSize)
			}
			if s.lastBucket != -1 {
				t.Errorf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "separation") {
		t.Error("ShouldLog on nil sampler should always return true")
	}
	s.Reset() // should not panic
}

func TestProgressSamplerStageChange(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog(0, "separation") {
		t.Error("first stage should log")
	}
	if s.ShouldLog(0, "separation") {
		t.Error("same stage and bucket should not log again")
	}
	if !s.ShouldLog(0, "transcription") {
		t.Error("stage change should log")
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(5)

	if !s.ShouldLog(1, "separation") {
		t.Error("first event should log")
	}
	if s.ShouldLog(4, "separation") {
		t.Error("same bucket should not log")
	}
	if !s.ShouldLog(6, "separation") {
		t.Error("next bucket should log")
	}
	if !s.ShouldLog(100, "separation") {
		t.Error("completion bucket should log")
	}
	if s.ShouldLog(100, "separation") {
		t.Error("repeated completion should not log")
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "separation")
	s.Reset()
	if !s.ShouldLog(50, "separation") {
		t.Error("after reset the same event should log again")
	}
}
