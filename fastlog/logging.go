// Package fastlog is a small line oriented logger that formats key=value
// pairs into a pooled fixed size buffer.
package fastlog

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel controls which lines a module logger emits.
type LogLevel int32

const (
	LevelError LogLevel = iota
	LevelInfo
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelDebug:
		return "debug"
	}
	return "info"
}

// Str2LogLevel converts a level name to a LogLevel; unknown names map to info.
func Str2LogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "error", "err":
		return LevelError
	case "debug", "trace":
		return LevelDebug
	}
	return LevelInfo
}

// Logger holds the output sink and the per module level.
// Module loggers created with New share Std.Out.
type Logger struct {
	Out    io.Writer
	module string
	level  atomic.Int32
	mu     sync.Mutex
}

const bufSize = 1024

// Std is the process wide sink. Set Std.Out to redirect every module logger.
var Std = &Logger{Out: os.Stderr}

var lines = sync.Pool{New: func() interface{} { return new(Line) }}

// New returns a logger for module at info level.
func New(module string) *Logger {
	l := &Logger{module: module}
	l.level.Store(int32(LevelInfo))
	return l
}

func (logger *Logger) SetLevel(level LogLevel) { logger.level.Store(int32(level)) }
func (logger *Logger) Level() LogLevel         { return LogLevel(logger.level.Load()) }
func (logger *Logger) IsInfo() bool            { return logger.Level() >= LevelInfo }
func (logger *Logger) IsDebug() bool           { return logger.Level() >= LevelDebug }

// Msg starts a new line for this module.
func (logger *Logger) Msg(msg string) *Line {
	return NewLine(logger.module, msg)
}

func (logger *Logger) write(b []byte) error {
	Std.mu.Lock()
	defer Std.mu.Unlock()
	out := Std.Out
	if out == nil {
		out = os.Stderr
	}
	_, err := out.Write(b)
	return err
}

// Line is a log line under construction.
type Line struct {
	buffer [bufSize]byte
	index  int
}

// LineLog is implemented by types that know how to append themselves to a line.
type LineLog interface {
	FastLog(*Line) *Line
}

// NewLine returns a pooled line prefixed with a six character module column.
func NewLine(module string, msg string) *Line {
	l := lines.Get().(*Line)
	l.index = 0
	l.header(module, msg)
	return l
}

func (l *Line) header(module string, msg string) {
	start := l.index
	l.appendString(module)
	for l.index < start+6 {
		l.appendByte(' ')
	}
	l.appendString(":")
	if msg != "" {
		l.appendString(" msg=\"")
		l.appendString(msg)
		l.appendByte('"')
	}
}

// the last byte is kept free for the newline
func (l *Line) appendByte(b byte) {
	if l.index < bufSize-1 {
		l.buffer[l.index] = b
		l.index++
	}
}

func (l *Line) appendString(s string) {
	l.index += copy(l.buffer[l.index:bufSize-1], s)
}

func (l *Line) appendRaw(b []byte) {
	l.index += copy(l.buffer[l.index:bufSize-1], b)
}

func (l *Line) key(name string) {
	l.appendByte(' ')
	l.appendString(name)
	l.appendByte('=')
}

// Module appends a second module header to the same line.
func (l *Line) Module(module string, msg string) *Line {
	l.header(module, msg)
	return l
}

func (l *Line) Byte(value byte) *Line {
	l.appendByte(value)
	return l
}

func (l *Line) String(name string, value string) *Line {
	l.key(name)
	l.appendString(value)
	return l
}

func (l *Line) Bool(name string, value bool) *Line {
	l.key(name)
	var tmp [8]byte
	l.appendRaw(strconv.AppendBool(tmp[:0], value))
	return l
}

func (l *Line) Int(name string, value int) *Line {
	l.key(name)
	l.appendNumber(int64(value))
	return l
}

func (l *Line) appendNumber(value int64) {
	var tmp [24]byte
	l.appendRaw(strconv.AppendInt(tmp[:0], value, 10))
}

func (l *Line) Uint8(name string, value uint8) *Line {
	l.key(name)
	l.appendNumber(int64(value))
	return l
}

func (l *Line) Uint16(name string, value uint16) *Line {
	l.key(name)
	l.appendNumber(int64(value))
	return l
}

func (l *Line) Uint32(name string, value uint32) *Line {
	l.key(name)
	l.appendNumber(int64(value))
	return l
}

var hexAscii = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

func (l *Line) writeHex(value byte) {
	l.appendByte(hexAscii[value>>4])
	l.appendByte(hexAscii[value&0x0f])
}

func (l *Line) Uint8Hex(name string, value uint8) *Line {
	l.key(name)
	l.appendString("0x")
	l.writeHex(value)
	return l
}

func (l *Line) Uint16Hex(name string, value uint16) *Line {
	l.key(name)
	l.appendString("0x")
	l.writeHex(byte(value >> 8))
	l.writeHex(byte(value))
	return l
}

func (l *Line) Uint32Hex(name string, value uint32) *Line {
	l.key(name)
	l.appendString("0x")
	l.writeHex(byte(value >> 24))
	l.writeHex(byte(value >> 16))
	l.writeHex(byte(value >> 8))
	l.writeHex(byte(value))
	return l
}

func (l *Line) ByteArray(name string, value []byte) *Line {
	l.key(name)
	l.appendByte('[')
	for i, v := range value {
		if i > 0 {
			l.appendByte(' ')
		}
		l.writeHex(v)
	}
	l.appendByte(']')
	return l
}

func (l *Line) MAC(name string, value net.HardwareAddr) *Line {
	l.key(name)
	for i, v := range value {
		if i > 0 {
			l.appendByte(':')
		}
		l.writeHex(v)
	}
	return l
}

func (l *Line) IP(name string, value netip.Addr) *Line {
	l.key(name)
	if !value.IsValid() {
		l.appendString("invalid")
		return l
	}
	var tmp [48]byte
	l.appendRaw(value.AppendTo(tmp[:0]))
	return l
}

func (l *Line) Duration(name string, value time.Duration) *Line {
	l.key(name)
	l.appendString(value.String())
	return l
}

func (l *Line) Time(name string, value time.Time) *Line {
	l.key(name)
	var tmp [40]byte
	l.appendRaw(value.AppendFormat(tmp[:0], time.RFC3339))
	return l
}

func (l *Line) Error(name string, value error) *Line {
	l.key(name)
	if value == nil {
		l.appendString("nil")
		return l
	}
	l.appendByte('"')
	l.appendString(value.Error())
	l.appendByte('"')
	return l
}

func (l *Line) Sprintf(name string, value interface{}) *Line {
	l.key(name)
	l.appendString(fmt.Sprintf("%+v", value))
	return l
}

func (l *Line) Struct(value LineLog) *Line {
	return value.FastLog(l)
}

// ToString releases the line and returns its content without the module column.
func (l *Line) ToString() string {
	s := string(l.buffer[:l.index])
	lines.Put(l)
	if i := strings.Index(s, ":"); i >= 0 {
		s = strings.TrimLeft(s[i+1:], " ")
	}
	return s
}

// Write emits the line to Std.Out and returns it to the pool.
func (l *Line) Write() error {
	l.buffer[l.index] = '\n'
	err := Std.write(l.buffer[:l.index+1])
	lines.Put(l)
	return err
}
