package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

func TestNormalizeEventName(t *testing.T) {
	cases := []struct {
		in   string
		want domain.EventType
		ok   bool
	}{
		{"opens", domain.EventOpened, true},
		{"uniqueopens", domain.EventUniqueOpened, true},
		{"unique_opens", domain.EventUniqueOpened, true},
		{"clicks", domain.EventClicked, true},
		{"softBounces", domain.EventSoftBounce, true},
		{"hard_bounces", domain.EventHardBounce, true},
		{"invalidEmail", domain.EventInvalid, true},
		{"unsubscribes", domain.EventUnsubscribed, true},
		{"complaints", domain.EventComplaint, true},
		{"deliveries", domain.EventDelivered, true},
		{" delivered ", domain.EventDelivered, true},
		{"opened", domain.EventOpened, true},
		{"spam", domain.EventSpam, true},
		{"listAddition", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeEventName(tc.in)
		assert.Equal(t, tc.ok, ok, "name %q", tc.in)
		assert.Equal(t, tc.want, got, "name %q", tc.in)
	}
}

func TestSubstituteFields(t *testing.T) {
	lead := &domain.Lead{Name: "Ada", Email: "ada@example.com"}
	out := substituteFields("Hi {{name}}, we emailed {{email}}", lead)
	assert.Equal(t, "Hi Ada, we emailed ada@example.com", out)

	anon := &domain.Lead{Email: "x@example.com"}
	assert.Equal(t, "Hi there", substituteFields("Hi {{name}}", anon))
	assert.Equal(t, "", substituteFields("", lead))
}
