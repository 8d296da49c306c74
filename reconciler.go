package waveportal

// WaveFeedReconciler merges the snapshot read of all waves with the pushed
// NewWave stream into one feed, deduplicated by WaveKey and ordered by arrival.
//
// It is not safe for concurrent use. AppController serializes access.
type WaveFeedReconciler struct {
	feed []WaveEvent
	keys map[WaveKey]struct{}
}

func NewWaveFeedReconciler() *WaveFeedReconciler {
	return &WaveFeedReconciler{
		keys: map[WaveKey]struct{}{},
	}
}

// Seed replaces the feed with snapshot, keeping its order. The snapshot is
// authoritative, so whatever was offered before is dropped. Repeated keys
// inside the snapshot keep their first occurrence.
func (r *WaveFeedReconciler) Seed(snapshot []WaveEvent) {
	r.feed = make([]WaveEvent, 0, len(snapshot))
	r.keys = make(map[WaveKey]struct{}, len(snapshot))
	for _, ev := range snapshot {
		key := ev.Key()
		if _, seen := r.keys[key]; seen {
			continue
		}
		r.keys[key] = struct{}{}
		r.feed = append(r.feed, ev)
	}
}

// Offer appends ev unless an event with the same key is already in the feed.
// It returns whether ev was appended.
func (r *WaveFeedReconciler) Offer(ev WaveEvent) bool {
	key := ev.Key()
	if _, seen := r.keys[key]; seen {
		return false
	}
	r.keys[key] = struct{}{}
	r.feed = append(r.feed, ev)
	return true
}

// Snapshot returns a copy of the feed in insertion order.
func (r *WaveFeedReconciler) Snapshot() []WaveEvent {
	out := make([]WaveEvent, len(r.feed))
	copy(out, r.feed)
	return out
}

func (r *WaveFeedReconciler) Len() int {
	return len(r.feed)
}

func (r *WaveFeedReconciler) Contains(key WaveKey) bool {
	_, ok := r.keys[key]
	return ok
}
