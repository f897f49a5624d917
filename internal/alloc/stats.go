package alloc

import (
	"io"

	c "hugealloc/internal"
	"hugealloc/internal/region"
	"hugealloc/internal/util"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PrintStats writes a human readable summary. The format is informational only.
func (a *Allocator) PrintStats(w io.Writer) {
	p := message.NewPrinter(language.English)
	st := a.Stats()

	p.Fprintf(w, "hugealloc stats (numa node %d):\n", a.numaNode)
	p.Fprintf(w, "Total reserved SHM = %d bytes (%.2f MiB)\n",
		st.Reserved, float64(st.Reserved)/float64(c.MiB))
	p.Fprintf(w, "Total memory handed out = %d bytes (%.2f MiB)\n",
		st.HandedOut, float64(st.HandedOut)/float64(c.MiB))
	p.Fprintf(w, "Currently checked out = %d bytes, raw = %d bytes, growths = %d\n",
		st.CheckedOut, st.Raw, st.Growths)

	p.Fprintf(w, "%d SHM regions\n", st.Regions)
	a.regions.ForEach(func(i int, r *region.Region) {
		val, unit := util.ScaleBytes(r.Size())
		p.Fprintf(w, "Region %d, size %d %s, lkey %d\n", i, val, unit, r.Reg.LKey)
	})

	p.Fprintf(w, "Size classes:\n")
	for class, n := range a.free.Lens() {
		val, unit := util.ScaleBytes(a.classes.MaxSize(class))
		p.Fprintf(w, "\t%d %s: %d Buffers\n", val, unit, n)
	}
}
