package bridge_test

import (
	"bytes"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Iron-Ham/pixbridge/internal/bridge"
	"github.com/Iron-Ham/pixbridge/internal/errors"
	"github.com/Iron-Ham/pixbridge/internal/event"
	"github.com/Iron-Ham/pixbridge/internal/imaging"
	"github.com/Iron-Ham/pixbridge/internal/logging"
	"github.com/Iron-Ham/pixbridge/internal/testutil"
)

// itemWorker dispatches each delivered item to the handler named by its
// first argument.
func itemWorker(handlers map[string]func(table *bridge.CallbackTable, args []string)) *loopWorker {
	return &loopWorker{handle: func(table *bridge.CallbackTable, args []string) {
		if h, ok := handlers[args[0]]; ok {
			h(table, args[1:])
		}
	}}
}

func requireRunFailed(t *testing.T, err error, failures int64) {
	t.Helper()
	if !errors.Is(err, errors.ErrRunFailed) {
		t.Fatalf("Run() error = %v, want ErrRunFailed", err)
	}
	var bErr *errors.BridgeError
	if !errors.As(err, &bErr) {
		t.Fatalf("Run() error %T is not a BridgeError", err)
	}
	if bErr.Failures != failures {
		t.Errorf("BridgeError.Failures = %d, want %d", bErr.Failures, failures)
	}
}

func TestCallbackTable_Layout(t *testing.T) {
	want := []string{
		"GetMoreWork",
		"GetDimensions",
		"GetDimensionsByRef",
		"SetDimensions",
		"GetPixels",
		"SetPixels",
		"SetPixel",
		"GetProtobufMetadata",
		"SetProtobufMetadata",
		"ShouldInterrupt",
		"ProgressReport",
		"ProgressSetIndeterminate",
		"Log",
		"PrintCharacters",
		"FreeGetMoreWork",
		"Version",
		"LogThreshold",
	}

	typ := reflect.TypeOf(bridge.CallbackTable{})
	if typ.NumField() != len(want) {
		t.Fatalf("CallbackTable has %d fields, want %d", typ.NumField(), len(want))
	}
	for i, name := range want {
		if got := typ.Field(i).Name; got != name {
			t.Errorf("field %d = %s, want %s", i, got, name)
		}
	}
}

func TestGetPixels_DefaultSourceToDefaultDestination(t *testing.T) {
	src := testutil.GradientStack(t, "src", 10, 10, 1)
	dst := imaging.NewStack("dst", 10, 10, 1, 1, imaging.Uint8)
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"ping": func(table *bridge.CallbackTable, _ []string) {
			if px := table.GetPixels(0, "", nil, imaging.CacheDefault); px == nil {
				t.Error("GetPixels() returned nil")
				return
			}
			if !table.SetPixels(0, "", nil, imaging.CacheDefault, false) {
				t.Error("SetPixels() returned false")
			}
		},
	})
	s := establish(t, w, imaging.NewCatalog(src, dst))

	if err := s.Run(testContext(t), []string{"ping"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !bytes.Equal(testutil.SlicePixels(t, dst, 0), testutil.SlicePixels(t, src, 0)) {
		t.Error("destination slice differs from source after round trip")
	}
	if s.Stats().Failures != 0 {
		t.Errorf("Stats().Failures = %d, want 0", s.Stats().Failures)
	}
}

func TestSetPixels_RoundTrip(t *testing.T) {
	const width, height = 8, 6

	tests := []struct {
		name  string
		roi   *bridge.ROI
		async bool
	}{
		{"whole slice", nil, false},
		{"whole slice async", nil, true},
		{"roi", &bridge.ROI{X: 2, Y: 1, Width: 3, Height: 4}, false},
		{"roi async", &bridge.ROI{X: 2, Y: 1, Width: 3, Height: 4}, true},
		{"single row", &bridge.ROI{X: 0, Y: 5, Width: width, Height: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canvas := imaging.NewStack("canvas", width, height, 1, 1, imaging.Uint8)
			catalog := imaging.NewCatalog(nil, nil)
			catalog.Register(canvas)

			var pattern []byte
			w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
				"roundtrip": func(table *bridge.CallbackTable, _ []string) {
					view := table.GetPixels(0, "canvas", tt.roi, imaging.CacheDefault)
					if view == nil {
						t.Error("GetPixels() returned nil")
						return
					}
					for i := range view {
						view[i] = byte(i + 1)
					}
					pattern = bytes.Clone(view)
					if !table.SetPixels(0, "canvas", tt.roi, imaging.CacheDefault, tt.async) {
						t.Error("SetPixels() returned false")
						return
					}
					back := table.GetPixels(0, "canvas", tt.roi, imaging.CacheDefault)
					if !bytes.Equal(back, pattern) {
						t.Errorf("read back %v, want %v", back, pattern)
					}
				},
			})
			s := establish(t, w, catalog, bridge.WithAsyncWrites(true))

			if err := s.Run(testContext(t), []string{"roundtrip"}, blocking); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			roi := bridge.ROI{Width: width, Height: height}
			if tt.roi != nil {
				roi = *tt.roi
			}
			got := testutil.SlicePixels(t, canvas, 0)
			for y := range height {
				for x := range width {
					want := byte(0)
					if x >= roi.X && x < roi.X+roi.Width && y >= roi.Y && y < roi.Y+roi.Height {
						want = pattern[(y-roi.Y)*roi.Width+(x-roi.X)]
					}
					if got[y*width+x] != want {
						t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got[y*width+x], want)
					}
				}
			}
		})
	}
}

func TestSetPixels_AsyncWritesApplyInCallOrder(t *testing.T) {
	dst := imaging.NewStack("dst", 16, 16, 1, 1, imaging.Uint8)
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"many": func(table *bridge.CallbackTable, _ []string) {
			view := table.GetPixels(0, imaging.DefaultDestination, nil, imaging.CacheDefault)
			for i := 1; i <= 50; i++ {
				for j := range view {
					view[j] = byte(i)
				}
				if !table.SetPixels(0, "", nil, imaging.CacheDefault, true) {
					t.Errorf("SetPixels(%d) returned false", i)
				}
			}
		},
	})
	s := establish(t, w, imaging.NewCatalog(nil, dst), bridge.WithAsyncWrites(true))

	if err := s.Run(testContext(t), []string{"many"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, v := range testutil.SlicePixels(t, dst, 0) {
		if v != 50 {
			t.Fatalf("pixel %d = %d, want 50 from the last write", i, v)
		}
	}
}

func TestGetPixels_Failures(t *testing.T) {
	src := testutil.GradientStack(t, "src", 4, 4, 2)

	tests := []struct {
		name  string
		slice int
		image string
		roi   *bridge.ROI
	}{
		{"roi outside image", 0, "", &bridge.ROI{X: 2, Y: 2, Width: 4, Height: 1}},
		{"empty roi", 0, "", &bridge.ROI{Width: 0, Height: 1}},
		{"slice out of range", 5, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
				"read": func(table *bridge.CallbackTable, _ []string) {
					if px := table.GetPixels(tt.slice, tt.image, tt.roi, imaging.CacheDefault); px != nil {
						t.Errorf("GetPixels() = %d bytes, want nil", len(px))
					}
				},
			})
			s := establish(t, w, imaging.NewCatalog(src, nil))

			requireRunFailed(t, s.Run(testContext(t), []string{"read"}, blocking), 1)
			if !s.StillAlive() {
				t.Error("worker died after a failed callback")
			}
		})
	}
}

func TestSetPixels_MissingAuxiliaryDestinationIsSkipped(t *testing.T) {
	src := testutil.GradientStack(t, "src", 4, 4, 1)
	dst := imaging.NewStack("dst", 4, 4, 1, 1, imaging.Uint8)
	bus := event.NewBus()
	var mu sync.Mutex
	var missing []event.CollaboratorMissingEvent
	bus.Subscribe(event.TypeCollaboratorMissing, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		missing = append(missing, e.(event.CollaboratorMissingEvent))
	})

	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"aux": func(table *bridge.CallbackTable, _ []string) {
			table.GetPixels(0, "", nil, imaging.CacheDefault)
			if table.SetPixels(0, "overlay", nil, imaging.CacheDefault, false) {
				t.Error("SetPixels() to a missing overlay returned true")
			}
			if table.GetPixels(0, "ghost", nil, imaging.CacheDefault) != nil {
				t.Error("GetPixels() from a missing image returned data")
			}
			if !table.SetPixels(0, "", nil, imaging.CacheDefault, false) {
				t.Error("SetPixels() to the default destination failed")
			}
		},
	})
	s := establish(t, w, imaging.NewCatalog(src, dst), bridge.WithBus(bus))

	if err := s.Run(testContext(t), []string{"aux"}, blocking); err != nil {
		t.Fatalf("Run() error = %v, want nil for missing auxiliary images", err)
	}
	stats := s.Stats()
	if stats.SkippedWrites != 1 {
		t.Errorf("Stats().SkippedWrites = %d, want 1", stats.SkippedWrites)
	}
	if stats.Failures != 0 {
		t.Errorf("Stats().Failures = %d, want 0", stats.Failures)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(missing) != 2 {
		t.Fatalf("got %d collaborator_missing events, want 2", len(missing))
	}
	if missing[0].Image != "overlay" || missing[0].Callback != "setPixels" {
		t.Errorf("first missing event = %+v, want setPixels/overlay", missing[0])
	}
	if missing[1].Image != "ghost" {
		t.Errorf("second missing event image = %q, want ghost", missing[1].Image)
	}
}

func TestSetPixels_MissingDefaultDestinationFails(t *testing.T) {
	src := testutil.GradientStack(t, "src", 4, 4, 1)
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"write": func(table *bridge.CallbackTable, _ []string) {
			table.GetPixels(0, "", nil, imaging.CacheDefault)
			table.SetPixels(0, "", nil, imaging.CacheDefault, false)
		},
	})
	s := establish(t, w, imaging.NewCatalog(src, nil))

	requireRunFailed(t, s.Run(testContext(t), []string{"write"}, blocking), 1)
	if s.Stats().SkippedWrites != 0 {
		t.Errorf("Stats().SkippedWrites = %d, want 0", s.Stats().SkippedWrites)
	}
}

func TestSetPixel_PixelwiseOnlyDestination(t *testing.T) {
	backing := imaging.NewStack("plain", 4, 4, 1, 1, imaging.Uint8)
	catalog := imaging.NewCatalog(nil, nil)
	catalog.Register(imaging.NewPixelwiseOnly(backing))

	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"bulk": func(table *bridge.CallbackTable, _ []string) {
			table.GetPixels(0, "plain", nil, imaging.CacheDefault)
			if table.SetPixels(0, "plain", nil, imaging.CacheDefault, false) {
				t.Error("SetPixels() on a pixelwise-only image returned true")
			}
		},
		"point": func(table *bridge.CallbackTable, _ []string) {
			if !table.SetPixel(0, "plain", 1, 2, imaging.CacheDefault, 42) {
				t.Error("SetPixel() returned false")
			}
		},
	})
	s := establish(t, w, catalog)
	ctx := testContext(t)

	err := s.Run(ctx, []string{"bulk"}, blocking)
	requireRunFailed(t, err, 1)
	if !strings.Contains(err.Error(), "bridge error") {
		t.Errorf("Run() error = %q", err)
	}

	if err := s.Run(ctx, []string{"point"}, blocking); err != nil {
		t.Fatalf("Run(point) error = %v, want nil in a new phase", err)
	}
	v, err := backing.PixelValue(1, 2, 0)
	if err != nil {
		t.Fatalf("PixelValue() error = %v", err)
	}
	if v != 42 {
		t.Errorf("pixel (1,2) = %v, want 42", v)
	}
}

func TestSetDimensions(t *testing.T) {
	t.Run("deferred destination", func(t *testing.T) {
		src := imaging.NewStack("src", 2, 2, 1, 1, imaging.Uint16)
		dst := imaging.NewDeferredStack("out")
		var got imaging.Dimensions
		w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
			"alloc": func(table *bridge.CallbackTable, _ []string) {
				if !table.SetDimensions("", imaging.Dimensions{X: 4, Y: 3, Z: 2, C: 1}) {
					t.Error("SetDimensions() returned false")
				}
				got = table.GetDimensions(imaging.DefaultDestination)
			},
		})
		s := establish(t, w, imaging.NewCatalog(src, dst))

		if err := s.Run(testContext(t), []string{"alloc"}, blocking); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		want := imaging.Dimensions{X: 4, Y: 3, Z: 2, T: 1, C: 1}
		if got != want {
			t.Errorf("GetDimensions() = %+v, want %+v", got, want)
		}
		if dst.PixelType() != imaging.Uint16 {
			t.Errorf("allocated pixel type = %v, want the source's uint16", dst.PixelType())
		}
	})

	t.Run("fixed destination", func(t *testing.T) {
		dst := imaging.NewStack("dst", 2, 2, 1, 1, imaging.Uint8)
		w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
			"alloc": func(table *bridge.CallbackTable, _ []string) {
				if table.SetDimensions("", imaging.Dimensions{X: 4, Y: 4, Z: 1, C: 1}) {
					t.Error("SetDimensions() on a fixed stack returned true")
				}
			},
		})
		s := establish(t, w, imaging.NewCatalog(nil, dst))

		requireRunFailed(t, s.Run(testContext(t), []string{"alloc"}, blocking), 1)
	})

	t.Run("zero extent", func(t *testing.T) {
		dst := imaging.NewDeferredStack("out")
		w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
			"alloc": func(table *bridge.CallbackTable, _ []string) {
				table.SetDimensions("", imaging.Dimensions{X: 4, Y: 0, Z: 1})
			},
		})
		s := establish(t, w, imaging.NewCatalog(nil, dst))

		requireRunFailed(t, s.Run(testContext(t), []string{"alloc"}, blocking), 1)
	})
}

func TestSetDimensions_AppliesPendingAsyncWritesFirst(t *testing.T) {
	dst := imaging.NewDeferredStack("dst")
	if err := dst.Allocate(imaging.Dimensions{X: 4, Y: 4, Z: 1, C: 1}, imaging.Uint8); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	var after []byte
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"realloc": func(table *bridge.CallbackTable, _ []string) {
			view := table.GetPixels(0, "dst", nil, imaging.CacheDefault)
			for i := range view {
				view[i] = 7
			}
			if !table.SetPixels(0, "dst", nil, imaging.CacheDefault, true) {
				t.Error("SetPixels() returned false")
			}
			if !table.SetDimensions("dst", imaging.Dimensions{X: 4, Y: 4, Z: 1, C: 1}) {
				t.Error("SetDimensions() returned false")
			}
			after = bytes.Clone(table.GetPixels(0, "dst", nil, imaging.CacheDefault))
		},
	})
	s := establish(t, w, imaging.NewCatalog(nil, dst), bridge.WithAsyncWrites(true))

	if err := s.Run(testContext(t), []string{"realloc"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(after) != 16 {
		t.Fatalf("GetPixels() after reallocation returned %d bytes, want 16", len(after))
	}
	for i, v := range after {
		if v != 0 {
			t.Fatalf("pixel %d = %d after reallocation, want 0", i, v)
		}
	}
}

func TestSetDimensions_GrowsTransferBuffer(t *testing.T) {
	src := testutil.GradientStack(t, "src", 2, 2, 1)
	dst := imaging.NewDeferredStack("out")
	var wrote bool
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"grow": func(table *bridge.CallbackTable, _ []string) {
			if !table.SetDimensions("", imaging.Dimensions{X: 32, Y: 32, Z: 1, C: 1}) {
				t.Error("SetDimensions() returned false")
			}
			wrote = table.SetPixels(0, "", nil, imaging.CacheDefault, false)
		},
	})
	s := establish(t, w, imaging.NewCatalog(src, dst))

	if err := s.Run(testContext(t), []string{"grow"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !wrote {
		t.Error("SetPixels() into the enlarged destination returned false")
	}
	if got := s.CurrentMemoryUsage(); got < 32*32 {
		t.Errorf("CurrentMemoryUsage() = %d, want at least %d", got, 32*32)
	}
}

func TestGetDimensions(t *testing.T) {
	src := imaging.NewStack("src", 5, 7, 3, 2, imaging.Float32)
	spots := imaging.NewPointSet("spots",
		imaging.Point{X: 0, Y: 0, Z: 0, Label: "a"},
		imaging.Point{X: 3.5, Y: 2, Z: 1, Label: "b"},
		imaging.Point{X: 1, Y: 4, Z: 0, Label: "c"},
	)
	catalog := imaging.NewCatalog(src, nil)
	catalog.Register(spots)

	var stack, points imaging.Dimensions
	var byRefOK, nilOK bool
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"dims": func(table *bridge.CallbackTable, _ []string) {
			stack = table.GetDimensions("")
			byRefOK = table.GetDimensionsByRef("spots", &points)
		},
		"nil": func(table *bridge.CallbackTable, _ []string) {
			nilOK = table.GetDimensionsByRef("spots", nil)
		},
	})
	s := establish(t, w, catalog)
	ctx := testContext(t)

	if err := s.Run(ctx, []string{"dims"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := (imaging.Dimensions{X: 5, Y: 7, Z: 3, T: 1, C: 2}); stack != want {
		t.Errorf("GetDimensions(default) = %+v, want %+v", stack, want)
	}
	if !byRefOK {
		t.Fatal("GetDimensionsByRef() returned false")
	}
	if points.T != 3 || points.C != 1 {
		t.Errorf("point set dimensions = %+v, want T=3 C=1", points)
	}

	requireRunFailed(t, s.Run(ctx, []string{"nil"}, blocking), 1)
	if nilOK {
		t.Error("GetDimensionsByRef(nil) returned true")
	}
}

func newMetadata(t *testing.T) *structpb.Struct {
	t.Helper()
	m, err := structpb.NewStruct(map[string]any{
		"unit":  "um",
		"scale": 0.25,
		"axes":  []any{"x", "y", "z"},
	})
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return m
}

func TestGetProtobufMetadata_BufferTooSmall(t *testing.T) {
	src := testutil.GradientStack(t, "src", 4, 4, 1)
	src.SetMetadata(newMetadata(t))
	logs := &testutil.SyncBuffer{}

	var n int
	var out []byte
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"meta": func(table *bridge.CallbackTable, _ []string) {
			out = make([]byte, 4)
			n = table.GetProtobufMetadata("", out)
		},
	})
	s := establish(t, w, imaging.NewCatalog(src, nil),
		bridge.WithLogger(logging.NewWriterLogger(logs, "debug")))

	requireRunFailed(t, s.Run(testContext(t), []string{"meta"}, blocking), 1)
	if n != -1 {
		t.Errorf("GetProtobufMetadata() = %d, want -1", n)
	}
	if !bytes.Equal(out, make([]byte, 4)) {
		t.Errorf("output buffer modified: %v", out)
	}
	if got := logs.String(); !strings.Contains(got, "getProtobufMetadata") {
		t.Errorf("log does not name the failed callback:\n%s", got)
	}
}

func TestProtobufMetadata_CopyBetweenCollaborators(t *testing.T) {
	src := testutil.GradientStack(t, "src", 4, 4, 1)
	want := newMetadata(t)
	src.SetMetadata(want)
	dst := imaging.NewStack("dst", 4, 4, 1, 1, imaging.Uint8)

	var n int
	var size int
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"copy": func(table *bridge.CallbackTable, _ []string) {
			out := make([]byte, size)
			n = table.GetProtobufMetadata("", out)
			if n < 0 {
				return
			}
			if !table.SetProtobufMetadata(out[:n], "dst") {
				t.Error("SetProtobufMetadata() returned false")
			}
		},
		"garbage": func(table *bridge.CallbackTable, _ []string) {
			if table.SetProtobufMetadata([]byte{0xff, 0xff, 0xff}, "dst") {
				t.Error("SetProtobufMetadata() accepted invalid bytes")
			}
		},
	})
	catalog := imaging.NewCatalog(src, nil)
	catalog.Register(dst)
	s := establish(t, w, catalog)
	ctx := testContext(t)

	var err error
	size, err = s.MetadataSize("")
	if err != nil {
		t.Fatalf("MetadataSize() error = %v", err)
	}
	if size == 0 {
		t.Fatal("MetadataSize() = 0 for populated metadata")
	}

	if err := s.Run(ctx, []string{"copy"}, blocking); err != nil {
		t.Fatalf("Run(copy) error = %v", err)
	}
	if n != size {
		t.Errorf("GetProtobufMetadata() = %d, want %d", n, size)
	}
	if !proto.Equal(dst.Metadata(), want) {
		t.Errorf("destination metadata = %v, want %v", dst.Metadata(), want)
	}

	requireRunFailed(t, s.Run(ctx, []string{"garbage"}, blocking), 1)
	if !proto.Equal(dst.Metadata(), want) {
		t.Error("invalid metadata replaced the destination's metadata")
	}
}

func TestShouldInterrupt_EdgeTriggered(t *testing.T) {
	var mu sync.Mutex
	var polls []bool
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"poll": func(table *bridge.CallbackTable, _ []string) {
			mu.Lock()
			defer mu.Unlock()
			polls = nil
			for range 3 {
				polls = append(polls, table.ShouldInterrupt())
			}
		},
	})
	s := establish(t, w, nil)
	ctx := testContext(t)

	tests := []struct {
		name       string
		interrupts int
		want       []bool
	}{
		{"no interrupt", 0, []bool{false, false, false}},
		{"one interrupt", 1, []bool{true, false, false}},
		{"repeated interrupts coalesce", 3, []bool{true, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range tt.interrupts {
				s.Interrupt()
			}
			if err := s.Run(ctx, []string{"poll"}, blocking); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			mu.Lock()
			defer mu.Unlock()
			if !reflect.DeepEqual(polls, tt.want) {
				t.Errorf("ShouldInterrupt() sequence = %v, want %v", polls, tt.want)
			}
		})
	}
}

func TestProgress_ForwardedToRunSink(t *testing.T) {
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"work": func(table *bridge.CallbackTable, _ []string) {
			table.ProgressSetIndeterminate(true)
			table.ProgressReport(10)
			table.ProgressReport(50)
			table.ProgressSetIndeterminate(false)
			table.ProgressReport(100)
		},
	})
	s := establish(t, w, nil)
	rec := &testutil.ProgressRecorder{}

	opts := blocking
	opts.Progress = rec
	if err := s.Run(testContext(t), []string{"work"}, opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	values := rec.Values()
	if len(values) == 0 || values[len(values)-1] != 100 {
		t.Errorf("progress values = %v, want last value 100", values)
	}
	toggles := rec.Indeterminate()
	if len(toggles) == 0 || toggles[len(toggles)-1] {
		t.Errorf("indeterminate toggles = %v, want last false", toggles)
	}
}

func TestProgress_RunWithoutSinkReportsNowhere(t *testing.T) {
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"report": func(table *bridge.CallbackTable, args []string) {
			table.ProgressReport(percentArg(t, args[0]))
		},
	})
	s := establish(t, w, nil)
	rec := &testutil.ProgressRecorder{}
	ctx := testContext(t)

	withSink := blocking
	withSink.Progress = rec
	if err := s.Run(ctx, []string{"report", "10"}, withSink); err != nil {
		t.Fatalf("Run(with sink) error = %v", err)
	}
	if err := s.Run(ctx, []string{"report", "99"}, blocking); err != nil {
		t.Fatalf("Run(without sink) error = %v", err)
	}

	if values := rec.Values(); len(values) != 1 || values[0] != 10 {
		t.Errorf("first run's sink saw %v, want [10]", values)
	}
}

func percentArg(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("ParseFloat(%q) error = %v", s, err)
	}
	return v
}

func TestLog_Threshold(t *testing.T) {
	logs := &testutil.SyncBuffer{}
	var version uint32
	var threshold bridge.LogLevel
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"log": func(table *bridge.CallbackTable, args []string) {
			version = table.Version
			threshold = table.LogThreshold
			table.Log(bridge.LogDebug, "quiet "+args[0])
			table.Log(bridge.LogWarn, "loud "+args[0])
		},
	})
	s := establish(t, w, nil,
		bridge.WithLogger(logging.NewWriterLogger(logs, "debug")),
		bridge.WithLogThreshold(bridge.LogWarn))
	ctx := testContext(t)

	if err := s.Run(ctx, []string{"log", "first"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if version != bridge.ABIVersion {
		t.Errorf("table Version = %d, want %d", version, bridge.ABIVersion)
	}
	if threshold != bridge.LogWarn {
		t.Errorf("table LogThreshold = %v, want WARN", threshold)
	}
	out := logs.String()
	if !strings.Contains(out, "loud first") {
		t.Errorf("warning not forwarded:\n%s", out)
	}
	if strings.Contains(out, "quiet first") {
		t.Errorf("debug message forwarded below threshold:\n%s", out)
	}

	s.SetLogThreshold(bridge.LogDebug)
	if err := s.Run(ctx, []string{"log", "second"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(logs.String(), "quiet second") {
		t.Error("debug message not forwarded after lowering the threshold")
	}
	if threshold != bridge.LogWarn {
		t.Errorf("table LogThreshold = %v, want the establish-time WARN", threshold)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want bridge.LogLevel
	}{
		{"debug", bridge.LogDebug},
		{"INFO", bridge.LogInfo},
		{"Warning", bridge.LogWarn},
		{"error", bridge.LogError},
		{"verbose", bridge.LogInfo},
	}
	for _, tt := range tests {
		if got := bridge.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrintCharacters(t *testing.T) {
	out := &testutil.SyncBuffer{}
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"print": func(table *bridge.CallbackTable, args []string) {
			for _, a := range args {
				table.PrintCharacters(a)
			}
		},
	})
	s := establish(t, w, nil, bridge.WithOutput(out))

	if err := s.Run(testContext(t), []string{"print", "hello ", "world\n"}, blocking); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out.String(); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
}

// panickyImage is an image whose pixel reads panic.
type panickyImage struct {
	*imaging.Stack
}

func (panickyImage) SlicePixels(int) ([]byte, error) {
	panic("corrupt storage")
}

func TestCallback_PanicIsContained(t *testing.T) {
	src := panickyImage{Stack: imaging.NewStack("src", 2, 2, 1, 1, imaging.Uint8)}
	w := itemWorker(map[string]func(*bridge.CallbackTable, []string){
		"read": func(table *bridge.CallbackTable, _ []string) {
			if table.GetPixels(0, "", nil, imaging.CacheDefault) != nil {
				t.Error("GetPixels() returned data from a panicking image")
			}
		},
		"noop": func(*bridge.CallbackTable, []string) {},
	})
	s := establish(t, w, imaging.NewCatalog(src, nil))
	ctx := testContext(t)

	requireRunFailed(t, s.Run(ctx, []string{"read"}, blocking), 1)
	if !s.StillAlive() {
		t.Fatal("worker died after a callback panic")
	}
	if err := s.Run(ctx, []string{"noop"}, blocking); err != nil {
		t.Errorf("Run() after contained panic error = %v", err)
	}
}
