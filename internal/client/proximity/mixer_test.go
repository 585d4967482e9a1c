package proximity

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Jam/internal/domain"
)

func TestVolume(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
		in       bool
	}{
		{distance: 0, want: 1.0, in: true},
		{distance: 2.5, want: 0.6, in: true},
		{distance: 5, want: 0.2, in: true},
		{distance: 6, want: 0, in: false},
	}
	for _, test := range tests {
		got, in := Volume(test.distance, 5)
		if in != test.in || math.Abs(got-test.want) > 1e-9 {
			t.Errorf("Volume(%v, 5) = %v, %v; want %v, %v", test.distance, got, in, test.want, test.in)
		}
	}
}

func TestVolumeMonotonic(t *testing.T) {
	prev := 2.0
	for i := 0; i <= 100; i++ {
		d := float64(i) / 20
		v, in := Volume(d, 5)
		if !in {
			t.Fatalf("%v should be in range", d)
		}
		if v > prev || v < MinVolume {
			t.Fatalf("volume at %v is %v after %v", d, v, prev)
		}
		prev = v
	}
}

type call struct {
	volume  float64
	audible bool
	visible bool
}

type fakeOutput struct {
	mu    sync.Mutex
	calls map[domain.UserID]call
	n     int
}

func (f *fakeOutput) SetAudible(remote domain.UserID, volume float64, audible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[remote]
	c.volume, c.audible = volume, audible
	f.calls[remote] = c
	f.n++
}

func (f *fakeOutput) SetVisible(remote domain.UserID, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[remote]
	c.visible = visible
	f.calls[remote] = c
}

func (f *fakeOutput) get(remote domain.UserID) call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[remote]
}

func TestApply(t *testing.T) {
	out := &fakeOutput{calls: map[domain.UserID]call{}}
	m := NewMixer(5, time.Second, out)
	m.SetSelf(domain.Vec3{1, 0, 1})
	m.Update("near", domain.Vec3{1, 0, 3.5})
	m.Update("far", domain.Vec3{10, 0, 10})
	m.Apply()

	near := out.get("near")
	if !near.audible || !near.visible || math.Abs(near.volume-0.6) > 1e-9 {
		t.Errorf("near peer: %+v", near)
	}
	if far := out.get("far"); far.audible || far.visible {
		t.Errorf("far peer should be muted and hidden: %+v", far)
	}
	if in := m.InRange(); len(in) != 1 || in[0] != "near" {
		t.Errorf("unexpected in-range set %v", in)
	}

	m.Update("far", domain.Vec3{1, 0, 1})
	m.Apply()
	if far := out.get("far"); !far.audible || far.volume != 1 {
		t.Errorf("peer on top of us should be at full volume: %+v", far)
	}
	if l, ok := m.Level("far"); !ok || !l.Audible {
		t.Errorf("unexpected level %+v", l)
	}

	m.Remove("far")
	if _, ok := m.Level("far"); ok {
		t.Error("removed peer still tracked")
	}
}

func TestRunTicks(t *testing.T) {
	out := &fakeOutput{calls: map[domain.UserID]call{}}
	m := NewMixer(5, 5*time.Millisecond, out)
	m.Update("bob", domain.Vec3{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		out.mu.Lock()
		n := out.n
		out.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("mixer did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
