package halfconn

import (
	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/sender"
	"github.com/riftnet/riftnet/internal/wire"
)

// fragmentPacket splits an admitted packet's payload into the datagrams
// that carry it on the wire (spec.md §3.4): every fragment but the last is
// exactly MaxFragmentSize bytes, and the fragment count matches the
// FragmentIDLast the sender already committed to at admission time.
func fragmentPacket(p *sender.PendingPacket) []*wire.Datagram {
	n := int(p.FragmentIDLast) + 1
	out := make([]*wire.Datagram, 0, n)
	for i := 0; i < n; i++ {
		start := i * config.MaxFragmentSize
		end := start + config.MaxFragmentSize
		if end > len(p.Data) {
			end = len(p.Data)
		}
		out = append(out, &wire.Datagram{
			ChannelID:         p.ChannelID,
			SequenceID:        p.SequenceID,
			FragmentID:        uint16(i),
			FragmentIDLast:    p.FragmentIDLast,
			WindowParentLead:  p.WindowParentLead,
			ChannelParentLead: p.ChannelParentLead,
			Data:              p.Data[start:end],
		})
	}
	return out
}
