package region

import (
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Print writes a report of the list to w. With includeContents every region
// is listed.
func (fl *FreeList) Print(w io.Writer, includeContents bool) {
	p := message.NewPrinter(language.English)

	p.Fprintln(w)
	p.Fprintf(w, "Set: %s (id %d)\n", fl.name, fl.id)
	p.Fprintf(w, "  Region Type         : %s\n", fl.checker.Description())
	p.Fprintf(w, "  Length              : %14d\n", fl.length)

	if fl.nodes != nil {
		for node, n := range fl.nodes.lengthOfNode {
			p.Fprintf(w, "  Node %-3d Length     : %14d\n", node, n)
		}
	}

	if !includeContents {
		return
	}

	var capacity uint64
	for h := fl.head; h != NoHandle; h = fl.region(h).next {
		r := fl.region(h)
		capacity += r.capacity
		p.Fprintf(w, "    %8d node=%d capacity=%s\n", r.index, r.node, humanize.IBytes(r.capacity))
	}
	p.Fprintf(w, "  Capacity            : %14s\n", humanize.IBytes(capacity))
}
