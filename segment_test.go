package lanchain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSegmentBuildKeepsMemberOrder(t *testing.T) {
	a := createNode(0, Terminal)
	b := createNode(1, Terminal)
	r := createNode(2, Router)

	sb := new(segmentBuilder)
	seg, intrfcs, err := sb.build(TerminalFacing, DefaultLinkParams(), []*Node{b, a, r})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := seg.Name, "lan0"; got != want {
		t.Errorf("Name: got %s, want %s", got, want)
	}
	got := []int{}
	for _, m := range seg.Members {
		got = append(got, m.NodeID)
	}
	if diff := cmp.Diff([]int{1, 0, 2}, got); diff != "" {
		t.Errorf("member order (-want +got):\n%s", diff)
	}
	if len(intrfcs) != 3 {
		t.Fatalf("got %d interfaces, want 3", len(intrfcs))
	}
	for idx, intrfc := range intrfcs {
		if intrfc.NodeID != seg.Members[idx].NodeID {
			t.Errorf("interface %d belongs to node %d, member is node %d", idx, intrfc.NodeID, seg.Members[idx].NodeID)
		}
		if intrfc.Number != idx {
			t.Errorf("interface %d numbered %d", idx, intrfc.Number)
		}
	}

	// a second segment on the router gets its next device index
	seg2, _, err := sb.build(Backbone, DefaultLinkParams(), []*Node{r, createNode(3, Router)})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := seg2.Name, "bb0"; got != want {
		t.Errorf("Name: got %s, want %s", got, want)
	}
	if got := r.IntrfcOn(seg2.ID); got == nil || got.Index != 1 {
		t.Errorf("router interface on %s: got %v, want device 1", seg2.Name, got)
	}
	if got, want := r.IntrfcOn(seg2.ID).String(), "/NodeList/2/DeviceList/1"; got != want {
		t.Errorf("String: got %s, want %s", got, want)
	}
}

func TestSegmentBuildMalformed(t *testing.T) {
	a := createNode(0, Terminal)
	sb := new(segmentBuilder)

	t.Run("one member", func(t *testing.T) {
		if _, _, err := sb.build(TerminalFacing, DefaultLinkParams(), []*Node{a}); !errors.Is(err, ErrMalformedTopology) {
			t.Errorf("got %v, want ErrMalformedTopology", err)
		}
	})
	t.Run("duplicate member", func(t *testing.T) {
		if _, _, err := sb.build(TerminalFacing, DefaultLinkParams(), []*Node{a, a}); !errors.Is(err, ErrMalformedTopology) {
			t.Errorf("got %v, want ErrMalformedTopology", err)
		}
		if len(a.Intrfcs) != 0 {
			t.Errorf("failed build left %d interfaces on the node", len(a.Intrfcs))
		}
	})
}

func TestLinkParamsFillDefaults(t *testing.T) {
	got := LinkParams{DataRate: 10}.fillDefaults(DefaultLinkParams())
	if diff := cmp.Diff(LinkParams{DataRate: 10, Delay: 2e-3}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
