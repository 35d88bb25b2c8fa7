//go:build linux

package ime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// IBus D-Bus names.
const (
	IBusFactoryInterface = "org.freedesktop.IBus.Factory"
	IBusEngineInterface  = "org.freedesktop.IBus.Engine"
	IBusFactoryPath      = dbus.ObjectPath("/org/freedesktop/IBus/Factory")
	KahaniBusName        = "org.kahani.IBus"
	KahaniEngineName     = "kahani"
)

// IBus key event state masks
const (
	IBusShiftMask   uint32 = 1 << 0
	IBusLockMask    uint32 = 1 << 1
	IBusControlMask uint32 = 1 << 2
	IBusMod1Mask    uint32 = 1 << 3 // Alt
	IBusMod4Mask    uint32 = 1 << 6 // Super/Meta
	IBusReleaseMask uint32 = 1 << 30
)

// Common GDK key symbols
const (
	GDKBackSpace = 0xff08
	GDKDelete    = 0xffff
	GDKReturn    = 0xff0d
	GDKKPEnter   = 0xff8d
	GDKLeft      = 0xff51
	GDKRight     = 0xff53
	GDKHome      = 0xff50
	GDKEnd       = 0xff57
	GDKSpace     = 0x0020
)

const ibusPreeditClear = 0

// IBusEngine is one IBus engine object. IBus creates one per input context
// through IBusFactory.
type IBusEngine struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	engine *Engine

	mu      sync.Mutex
	enabled bool
}

func newIBusEngine(conn *dbus.Conn, path dbus.ObjectPath, tr Transliterator, opts ...Option) *IBusEngine {
	e := &IBusEngine{conn: conn, path: path}
	e.engine = NewEngine(tr, e, opts...)
	return e
}

// ProcessKeyEvent handles a key press or release. It returns true when the
// key was consumed into the preedit.
func (e *IBusEngine) ProcessKeyEvent(keyval, keycode, state uint32) (bool, *dbus.Error) {
	if state&IBusReleaseMask != 0 {
		return false, nil
	}

	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !enabled {
		return false, nil
	}

	key, ok := keyvalToKey(keyval, keycode, state)
	if !ok {
		return false, nil
	}

	if !e.engine.HasActiveSession() {
		if err := e.engine.StartSession(SessionOptions{}); err != nil {
			slog.Warn("start session", "component", "ibus", "error", err)
			return false, nil
		}
	}

	handled, err := e.engine.OnKeyDown(key)
	if err != nil {
		slog.Warn("key event", "component", "ibus", "error", err)
		return false, nil
	}
	return handled, nil
}

// FocusIn is called when the engine gains input focus.
func (e *IBusEngine) FocusIn() *dbus.Error {
	slog.Debug("focus in", "component", "ibus", "engine", e.path)
	return nil
}

// FocusOut commits any preedit and ends the session.
func (e *IBusEngine) FocusOut() *dbus.Error {
	slog.Debug("focus out", "component", "ibus", "engine", e.path)
	e.endSession()
	return nil
}

// Enable is called when the user switches to this engine.
func (e *IBusEngine) Enable() *dbus.Error {
	e.mu.Lock()
	e.enabled = true
	e.mu.Unlock()
	return nil
}

// Disable is called when the user switches away.
func (e *IBusEngine) Disable() *dbus.Error {
	e.mu.Lock()
	e.enabled = false
	e.mu.Unlock()
	e.endSession()
	return nil
}

// Reset drops the preedit, e.g. after the application moved the cursor.
func (e *IBusEngine) Reset() *dbus.Error {
	e.engine.Reset()
	return nil
}

// SetCapabilities informs about client capabilities.
func (e *IBusEngine) SetCapabilities(caps uint32) *dbus.Error {
	return nil
}

// SetCursorLocation informs about the caret rectangle.
func (e *IBusEngine) SetCursorLocation(x, y, w, h int32) *dbus.Error {
	return nil
}

// SetContentType informs about the type of content being edited.
func (e *IBusEngine) SetContentType(purpose, hints uint32) *dbus.Error {
	return nil
}

// SetSurroundingText provides context around the cursor. Unused: the
// preedit carries all the text the engine needs.
func (e *IBusEngine) SetSurroundingText(text dbus.Variant, cursorPos, anchorPos uint32) *dbus.Error {
	return nil
}

// Destroy is called when IBus drops the input context.
func (e *IBusEngine) Destroy() *dbus.Error {
	e.endSession()
	e.conn.Export(nil, e.path, IBusEngineInterface)
	return nil
}

func (e *IBusEngine) endSession() {
	if !e.engine.HasActiveSession() {
		return
	}
	if info, err := e.engine.EndSession(); err == nil {
		slog.Debug("session ended", "component", "ibus", "session", info.ID, "commits", info.Commits)
	}
}

// UpdatePreedit implements Sink.
func (e *IBusEngine) UpdatePreedit(text string, caret int) {
	visible := text != ""
	err := e.conn.Emit(e.path, IBusEngineInterface+".UpdatePreeditText",
		ibusText(text), uint32(caret), visible, uint32(ibusPreeditClear))
	if err != nil {
		slog.Warn("emit preedit", "component", "ibus", "error", err)
	}
}

// CommitText implements Sink.
func (e *IBusEngine) CommitText(text string) {
	if err := e.conn.Emit(e.path, IBusEngineInterface+".CommitText", ibusText(text)); err != nil {
		slog.Warn("emit commit", "component", "ibus", "error", err)
	}
}

// ibusText builds the serialized IBusText value: a struct of type name,
// attachments, text and an empty attribute list.
func ibusText(text string) dbus.Variant {
	attrs := dbus.MakeVariant(struct {
		Name        string
		Attachments map[string]dbus.Variant
		Attributes  []dbus.Variant
	}{"IBusAttrList", map[string]dbus.Variant{}, []dbus.Variant{}})

	return dbus.MakeVariant(struct {
		Name        string
		Attachments map[string]dbus.Variant
		Text        string
		Attrs       dbus.Variant
	}{"IBusText", map[string]dbus.Variant{}, text, attrs})
}

// IBusFactory implements the IBus Factory D-Bus interface.
type IBusFactory struct {
	conn *dbus.Conn
	tr   Transliterator
	opts []Option

	mu       sync.Mutex
	engineID uint32
}

// NewIBusFactory creates a factory whose engines transliterate with tr.
func NewIBusFactory(conn *dbus.Conn, tr Transliterator, opts ...Option) *IBusFactory {
	return &IBusFactory{conn: conn, tr: tr, opts: opts}
}

// CreateEngine creates and exports a new engine instance for IBus.
func (f *IBusFactory) CreateEngine(engineName string) (dbus.ObjectPath, *dbus.Error) {
	if engineName != KahaniEngineName {
		return "", dbus.NewError("org.freedesktop.IBus.NoEngine",
			[]interface{}{"Unknown engine: " + engineName})
	}

	f.mu.Lock()
	f.engineID++
	path := dbus.ObjectPath(fmt.Sprintf("/org/freedesktop/IBus/Engine/%d", f.engineID))
	f.mu.Unlock()

	eng := newIBusEngine(f.conn, path, f.tr, f.opts...)
	if err := f.conn.Export(eng, path, IBusEngineInterface); err != nil {
		return "", dbus.MakeFailedError(err)
	}
	slog.Info("engine created", "component", "ibus", "path", path)
	return path, nil
}

// Export registers the factory on conn.
func (f *IBusFactory) Export() error {
	return f.conn.Export(f, IBusFactoryPath, IBusFactoryInterface)
}

// keyvalToKey converts an X11 keysym to a Key.
func keyvalToKey(keyval, keycode, state uint32) (Key, bool) {
	var mods Modifiers
	if state&IBusShiftMask != 0 {
		mods |= ModShift
	}
	if state&IBusControlMask != 0 {
		mods |= ModControl
	}
	if state&IBusMod1Mask != 0 {
		mods |= ModAlt
	}
	if state&IBusMod4Mask != 0 {
		mods |= ModMeta
	}

	var k Key
	switch keyval {
	case GDKBackSpace:
		k = NewSpecialKey(KeyBackspace)
	case GDKDelete:
		k = NewSpecialKey(KeyDelete)
	case GDKReturn, GDKKPEnter:
		k = NewSpecialKey(KeyEnter)
	case GDKLeft:
		k = NewSpecialKey(KeyLeft)
	case GDKRight:
		k = NewSpecialKey(KeyRight)
	case GDKHome:
		k = NewSpecialKey(KeyHome)
	case GDKEnd:
		k = NewSpecialKey(KeyEnd)
	default:
		r := keyvalToRune(keyval)
		if r == 0 {
			return Key{}, false
		}
		k = NewKey(r)
	}
	k.Code = uint16(keycode)
	k.Modifiers = mods
	return k, true
}

// keyvalToRune converts X11 keysym to Unicode rune.
func keyvalToRune(keyval uint32) rune {
	// Direct Unicode mapping for Latin-1 range
	if keyval >= 0x20 && keyval <= 0x7e {
		return rune(keyval)
	}

	// Extended Latin (ISO 8859-1)
	if keyval >= 0xa0 && keyval <= 0xff {
		return rune(keyval)
	}

	// Unicode keysyms (0x01000000 + codepoint)
	if keyval >= 0x01000000 {
		return rune(keyval - 0x01000000)
	}

	return 0
}

// ComponentXML returns the IBus component description for an engine binary.
func ComponentXML(binPath string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<component>
    <name>` + KahaniBusName + `</name>
    <description>Kahani Devanagari transliteration</description>
    <exec>` + binPath + ` --ibus</exec>
    <version>1.0.0</version>
    <author>Kahani</author>
    <license>MIT</license>
    <textdomain>kahani</textdomain>
    <engines>
        <engine>
            <name>` + KahaniEngineName + `</name>
            <language>hi</language>
            <license>MIT</license>
            <author>Kahani</author>
            <layout>us</layout>
            <longname>Kahani (Hindi)</longname>
            <description>Type Hindi phonetically in Latin letters</description>
            <rank>50</rank>
            <symbol>क</symbol>
        </engine>
    </engines>
</component>`
}
