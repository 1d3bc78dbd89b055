package wire

import (
	"bytes"
	"testing"

	"github.com/riftnet/riftnet/internal/packetid"
)

func TestDatagramVariantSelection(t *testing.T) {
	cases := []struct {
		name    string
		d       Datagram
		variant int
	}{
		{"micro", Datagram{ChannelID: 3, SequenceID: 100, WindowParentLead: 10, ChannelParentLead: 20, Data: []byte("hi")}, variantMicro},
		{"small-by-length", Datagram{ChannelID: 3, SequenceID: 100, Data: make([]byte, 200)}, variantSmall},
		{"small-by-lead", Datagram{ChannelID: 3, SequenceID: 100, WindowParentLead: 1000, Data: []byte("x")}, variantSmall},
		{"large-fragmented", Datagram{ChannelID: 3, SequenceID: 100, FragmentID: 0, FragmentIDLast: 2, Data: make([]byte, MaxFragmentSize)}, variantLarge},
		{"large-by-length", Datagram{ChannelID: 3, SequenceID: 100, Data: make([]byte, 300)}, variantLarge},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := chooseVariant(&c.d); got != c.variant {
				t.Errorf("chooseVariant = %d, want %d", got, c.variant)
			}
		})
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	cases := []Datagram{
		{ChannelID: 0, SequenceID: 0, Data: []byte("A")},
		{ChannelID: 63, SequenceID: packetid.ID(packetid.Space - 1), WindowParentLead: 1, ChannelParentLead: 1, Data: []byte("hello")},
		{ChannelID: 5, SequenceID: 42, WindowParentLead: 5000, ChannelParentLead: 6000, Data: make([]byte, 200)},
		{ChannelID: 5, SequenceID: 42, FragmentID: 1, FragmentIDLast: 3, WindowParentLead: 0, ChannelParentLead: 0, Data: make([]byte, MaxFragmentSize)},
		{ChannelID: 5, SequenceID: 42, FragmentID: 3, FragmentIDLast: 3, Data: []byte("final fragment")},
	}
	for i, d := range cases {
		// fill deterministic payload bytes so comparisons are meaningful
		for j := range d.Data {
			d.Data[j] = byte(j)
		}
		enc, err := EncodeDatagram(&d)
		if err != nil {
			t.Fatalf("case %d: EncodeDatagram: %v", i, err)
		}
		got, n, err := DecodeDatagram(enc)
		if err != nil {
			t.Fatalf("case %d: DecodeDatagram: %v", i, err)
		}
		if n != len(enc) {
			t.Errorf("case %d: consumed %d bytes, want %d", i, n, len(enc))
		}
		if got.ChannelID != d.ChannelID || got.SequenceID != d.SequenceID ||
			got.FragmentID != d.FragmentID || got.FragmentIDLast != d.FragmentIDLast ||
			got.WindowParentLead != d.WindowParentLead || got.ChannelParentLead != d.ChannelParentLead {
			t.Errorf("case %d: header mismatch: got %+v, want %+v", i, *got, d)
		}
		if !bytes.Equal(got.Data, d.Data) {
			t.Errorf("case %d: data mismatch", i)
		}
	}
}

func TestDatagramInvalidRejected(t *testing.T) {
	cases := []Datagram{
		{ChannelID: 64, SequenceID: 0, Data: []byte("x")},                                      // channel out of range
		{ChannelID: 0, SequenceID: 0, FragmentID: 2, FragmentIDLast: 1, Data: []byte("x")},       // fragment id > last
		{ChannelID: 0, SequenceID: 0, ChannelParentLead: 5, WindowParentLead: 0, Data: []byte("x")}, // channel lead w/o window lead
		{ChannelID: 0, SequenceID: 0, ChannelParentLead: 2, WindowParentLead: 5, Data: []byte("x")}, // channel lead < window lead
	}
	for i, d := range cases {
		if err := d.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
