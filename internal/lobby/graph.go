package lobby

import (
	"fmt"

	pt "github.com/DoyleJ11/kabletop-relay/pkg/types"
)

type DropKind int

const (
	WasAbsent DropKind = iota
	WasAdvertised
	WasPaired
)

func (k DropKind) String() string {
	switch k {
	case WasAbsent:
		return "absent"
	case WasAdvertised:
		return "advertised"
	case WasPaired:
		return "paired"
	default:
		return fmt.Sprintf("DropKind(%d)", int(k))
	}
}

// DropOutcome reports what a session was when it was dropped. Client is the
// dropped client's own record when one was known; Partner is set for WasPaired.
type DropOutcome struct {
	Kind    DropKind
	Client  pt.ClientInfo
	Partner pt.ClientInfo
}

type pairing struct {
	a, b pt.ClientInfo
}

func (p *pairing) other(id pt.ClientID) pt.ClientInfo {
	if p.a.ID == id {
		return p.b
	}
	return p.a
}

// graph is the relay state proper. It is not safe for concurrent use; the
// Lobby actor owns the only instance.
type graph struct {
	advertised map[pt.ClientID]pt.ClientInfo
	paired     map[pt.ClientID]*pairing // both members point at the same pairing
}

func newGraph() *graph {
	return &graph{
		advertised: make(map[pt.ClientID]pt.ClientInfo),
		paired:     make(map[pt.ClientID]*pairing),
	}
}

func (g *graph) addAdvertised(info pt.ClientInfo) bool {
	if _, ok := g.advertised[info.ID]; ok {
		return false
	}
	if _, ok := g.paired[info.ID]; ok {
		return false
	}
	g.advertised[info.ID] = info
	return true
}

func (g *graph) removeAdvertised(id pt.ClientID) bool {
	if _, ok := g.advertised[id]; !ok {
		return false
	}
	delete(g.advertised, id)
	return true
}

func (g *graph) listAdvertised() []pt.ClientInfo {
	out := make([]pt.ClientInfo, 0, len(g.advertised))
	for _, c := range g.advertised {
		out = append(out, c)
	}
	return out
}

func (g *graph) partnerOf(id pt.ClientID) (pt.ClientInfo, bool) {
	p, ok := g.paired[id]
	if !ok {
		return pt.ClientInfo{}, false
	}
	partner := p.other(id)
	if back := g.paired[partner.ID]; back != p {
		panic(fmt.Sprintf("broken pairing of %d <=> %d", id, partner.ID))
	}
	return partner, true
}

func (g *graph) pair(requester pt.ClientInfo, targetID pt.ClientID) bool {
	if _, ok := g.advertised[requester.ID]; ok {
		return false
	}
	if _, ok := g.paired[requester.ID]; ok {
		return false
	}
	target, ok := g.advertised[targetID]
	if !ok {
		return false
	}
	delete(g.advertised, targetID)
	p := &pairing{a: requester, b: target}
	g.paired[requester.ID] = p
	g.paired[targetID] = p
	return true
}

// unpair undoes a pair(requester, target) whose proposal was refused. It only
// acts if that exact pairing still exists.
func (g *graph) unpair(requesterID, targetID pt.ClientID) bool {
	p, ok := g.paired[requesterID]
	if !ok || p.other(requesterID).ID != targetID {
		return false
	}
	target := p.other(requesterID)
	g.removePairing(p)
	g.advertised[targetID] = target
	return true
}

func (g *graph) dropSession(id pt.ClientID) DropOutcome {
	if c, ok := g.advertised[id]; ok {
		delete(g.advertised, id)
		return DropOutcome{Kind: WasAdvertised, Client: c}
	}
	p, ok := g.paired[id]
	if !ok {
		return DropOutcome{Kind: WasAbsent}
	}
	partner, _ := g.partnerOf(id)
	self := p.other(partner.ID)
	g.removePairing(p)
	return DropOutcome{Kind: WasPaired, Client: self, Partner: partner}
}

func (g *graph) removePairing(p *pairing) {
	delete(g.paired, p.a.ID)
	delete(g.paired, p.b.ID)
}

func (g *graph) pairings() int { return len(g.paired) / 2 }

// check panics if the tables disagree with each other.
func (g *graph) check() {
	for id, p := range g.paired {
		if _, ok := g.advertised[id]; ok {
			panic(fmt.Sprintf("client %d is both advertised and paired", id))
		}
		if p.a.ID == p.b.ID {
			panic(fmt.Sprintf("client %d is paired with itself", id))
		}
		if p.a.ID != id && p.b.ID != id {
			panic(fmt.Sprintf("client %d indexes a pairing it is not part of", id))
		}
		if g.paired[p.other(id).ID] != p {
			panic(fmt.Sprintf("broken pairing of %d <=> %d", id, p.other(id).ID))
		}
	}
}
