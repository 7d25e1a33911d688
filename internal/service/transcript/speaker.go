package transcript

import (
	"strconv"

	"copilot-transcript-service/internal/models"
)

// LocalLabel is the display label of the local microphone speaker.
const LocalLabel = "You"

// SpeakerResolver maps speaker keys to display labels. Remote speakers get
// "Client N" in first-seen order; numbers are never reused until Reset.
// Not safe for concurrent use.
type SpeakerResolver struct {
	labels    map[string]string
	order     []string
	next      int
	localSeen bool
}

func NewSpeakerResolver() *SpeakerResolver {
	return &SpeakerResolver{labels: make(map[string]string)}
}

// Resolve returns the label for key, allocating one on first sight.
func (r *SpeakerResolver) Resolve(key string) string {
	if key == models.LocalChannel {
		if !r.localSeen {
			r.localSeen = true
			r.order = append(r.order, LocalLabel)
		}
		return LocalLabel
	}
	if label, ok := r.labels[key]; ok {
		return label
	}
	r.next++
	label := "Client " + strconv.Itoa(r.next)
	r.labels[key] = label
	r.order = append(r.order, label)
	return label
}

// Labels returns every label handed out so far, in first-seen order.
func (r *SpeakerResolver) Labels() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Reset forgets every allocation.
func (r *SpeakerResolver) Reset() {
	r.labels = make(map[string]string)
	r.order = nil
	r.next = 0
	r.localSeen = false
}
