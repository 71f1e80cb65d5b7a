package wltoy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOutputDescription(t *testing.T) {
	c := newTestDisplay(t, nil, Global{Name: 10, Interface: "wl_output", Version: 4})
	o := c.d.Outputs()[0]

	var configured []Rectangle
	c.d.SetOutputConfigureHandler(func(o *Output) { configured = append(configured, o.Allocation()) })
	if len(configured) != 1 {
		t.Fatalf("existing output reported %d times", len(configured))
	}
	configured = nil

	id := o.wl.ID()
	c.event(id, 0, int32(1920), int32(0), int32(600), int32(340), int32(0), "Acme", "Vista 27", int32(Transform90))
	c.event(id, 1, uint32(0), int32(1024), int32(768), int32(60000)) // not current
	c.event(id, 1, uint32(outputModeCurrent), int32(2560), int32(1440), int32(144000))
	c.event(id, 3, int32(2))
	c.event(id, 4, "DP-2")
	c.event(id, 5, "Acme Vista 27 (DP-2)")
	if len(configured) != 0 {
		t.Fatal("configure reported before done")
	}
	c.event(id, 2)

	want := []Rectangle{{X: 1920, Y: 0, Width: 2560, Height: 1440}}
	if diff := cmp.Diff(want, configured); diff != "" {
		t.Errorf("configured (-want +got):\n%s", diff)
	}
	if o.Refresh() != 144000 || o.Scale() != 2 || o.Transform() != Transform90 {
		t.Errorf("refresh=%d scale=%d transform=%d", o.Refresh(), o.Scale(), o.Transform())
	}
	if w, h := o.PhysicalSize(); w != 600 || h != 340 {
		t.Errorf("physical size = %dx%d", w, h)
	}
	got := []string{o.Make(), o.Model(), o.Name(), o.Description()}
	if diff := cmp.Diff([]string{"Acme", "Vista 27", "DP-2", "Acme Vista 27 (DP-2)"}, got); diff != "" {
		t.Errorf("strings (-want +got):\n%s", diff)
	}
	if o.GlobalName() != 10 {
		t.Errorf("global name = %d", o.GlobalName())
	}
}

func TestOutputVersionOneHasNoDone(t *testing.T) {
	c := newTestDisplay(t, nil, Global{Name: 10, Interface: "wl_output", Version: 1})
	o := c.d.Outputs()[0]
	calls := 0
	c.d.SetOutputConfigureHandler(func(*Output) { calls++ })
	calls = 0

	c.event(o.wl.ID(), 1, uint32(outputModeCurrent), int32(800), int32(600), int32(60000))
	if calls != 1 {
		t.Errorf("configure handler called %d times, want 1", calls)
	}
}

func TestOutputRemoval(t *testing.T) {
	c := newTestDisplay(t, nil,
		Global{Name: 10, Interface: "wl_output", Version: 4},
		Global{Name: 11, Interface: "wl_output", Version: 2},
	)
	outs := c.d.Outputs()
	w, _ := c.newMappedWindow(100, 100)
	c.event(w.mainSurface.wl.ID(), 0, outs[0].wl.ID()) // enter

	var gone []uint32
	for _, o := range outs {
		o.SetDestroyHandler(func(o *Output) { gone = append(gone, o.GlobalName()) })
	}
	c.requests()

	id := outs[0].wl.ID()
	c.d.handleGlobalRemove(10)
	if n := count(c.requests(), id, 0); n != 1 {
		t.Errorf("release sent %d times", n)
	}
	if len(w.Outputs()) != 0 {
		t.Error("window still on the removed output")
	}

	id = outs[1].wl.ID()
	c.d.handleGlobalRemove(11)
	if n := count(c.requests(), id, 0); n != 0 {
		t.Error("release sent to a version 2 output")
	}
	if diff := cmp.Diff([]uint32{10, 11}, gone); diff != "" {
		t.Errorf("destroyed (-want +got):\n%s", diff)
	}
	if len(c.d.Outputs()) != 0 {
		t.Error("outputs left after removal")
	}
}
