// Package response chooses the chat messages the bot sends for channel
// activity.
package response

import (
	"math/rand/v2"
	"strings"
	"sync"

	"gitlab.com/zephyrtronium/pick"

	"github.com/delboitv/babs/events"
)

// Slot is the marker in a template which is replaced by the subject's name.
const Slot = "{}"

// Anonymous is the name used for a missing subject.
const Anonymous = "someone"

// Pools holds the templates for each kind of activity.
// A template is either plain text or contains exactly one [Slot].
type Pools struct {
	Follow     []string `toml:"follow"`
	Raid       []string `toml:"raid"`
	Subscribe  []string `toml:"subscribe"`
	Redemption []string `toml:"redemption"`
}

func (p *Pools) of(k events.Kind) []string {
	switch k {
	case events.Follow:
		return p.Follow
	case events.Raid:
		return p.Raid
	case events.Subscribe:
		return p.Subscribe
	case events.Redemption:
		return p.Redemption
	default:
		return nil
	}
}

// Selector chooses responses. It is safe for concurrent use.
type Selector struct {
	mu    sync.Mutex
	rng   *rand.Rand
	dists [4]*pick.Dist[string]
	pools Pools
}

// New creates a Selector drawing from src. Empty pools in p are replaced by
// the defaults. If src is nil, the selector uses a randomly seeded source.
func New(src rand.Source, p Pools) *Selector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	d := Defaults()
	if len(p.Follow) == 0 {
		p.Follow = d.Follow
	}
	if len(p.Raid) == 0 {
		p.Raid = d.Raid
	}
	if len(p.Subscribe) == 0 {
		p.Subscribe = d.Subscribe
	}
	if len(p.Redemption) == 0 {
		p.Redemption = d.Redemption
	}
	s := &Selector{rng: rand.New(src), pools: p}
	for _, k := range events.Kinds() {
		t := p.of(k)
		c := make([]pick.Case[string], len(t))
		for i, v := range t {
			c[i] = pick.Case[string]{E: v, W: 1}
		}
		s.dists[k] = pick.New(c)
	}
	return s
}

// Select chooses a response for an activity of kind k caused by subject.
// An empty subject is filled as [Anonymous].
func (s *Selector) Select(k events.Kind, subject string) string {
	if k < 0 || int(k) >= len(s.dists) {
		return ""
	}
	s.mu.Lock()
	n := s.rng.Uint32()
	s.mu.Unlock()
	t := s.dists[k].Pick(n)
	return Fill(t, subject)
}

// Pool returns a copy of the templates for kind k.
func (s *Selector) Pool(k events.Kind) []string {
	return append([]string(nil), s.pools.of(k)...)
}

// Fill replaces the slot in template t with name.
func Fill(t, name string) string {
	if !strings.Contains(t, Slot) {
		return t
	}
	if name == "" {
		name = Anonymous
	}
	return strings.Replace(t, Slot, name, 1)
}

// Defaults returns the built-in templates.
func Defaults() Pools {
	return Pools{
		Follow: []string{
			"Hey @{}, welcome. Don't expect fireworks—I'm still upright, barely.",
			"New blood! @{}. Hope you're on meds too—makes the chat bearable.",
			"Cheers for the follow. DelboiTV's spine says thanks, but it still hurts.",
			"Another one. @{}, try not to fall over—streamer already did.",
			"Follow received. @{}, we don't do enthusiasm here. You'll fit in.",
			"Ta for the follow. @{}—if you're here for good vibes only, wrong channel.",
			"Welcome @{}. DelboiTV's back is in charge; we're just along for the ride.",
			"New follower @{}. No confetti. We're saving energy for the next twinge.",
			"Cheers @{}. Expect dry humour and the occasional groan. That's it.",
			"Follow noted. @{}—welcome to the chaos. Bring painkillers.",
			"Oi @{}, in you come. Don't say we didn't warn you.",
			"Thanks for the follow. @{}—still no refunds on bad backs.",
		},
		Raid: []string{
			"Raid squad! Thanks for the numbers—DelboiTV's still not impressed, but whatever.",
			"Cheers for the raid. You're alright.",
			"Here come the zombies—hope you're not here to judge.",
		},
		Subscribe: []string{
			"Subbed? Mental. You're now part of the cult. No escape.",
			"Cheers for the sub—you're officially too invested now. No refunds.",
			"Bold move. Pain's free, chat's not.",
		},
		Redemption: []string{
			"Nice one, @{}. You just bought me a coffee—cheers.",
			"Spent points? Respect. You're wild.",
			"Thanks for the redemption—chat's now slightly less dead.",
			"Still upright, DelboiTV? Mad.",
			"Oi DelboiTV, say hi to your new fan.",
			"This stream sucks and so do you—kidding, sort of.",
		},
	}
}
