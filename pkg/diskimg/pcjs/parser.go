// file: pkg/diskimg/pcjs/parser.go

package pcjs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ha1tch/floppyimg/pkg/diskimg"
	"github.com/ha1tch/floppyimg/pkg/geometry"
)

const (
	maxCylinders = 86
	maxHeads     = 2
	maxSectors   = 256
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpenArray
	tokCloseArray
	tokOpenObject
	tokCloseObject
	tokColon
	tokComma
	tokString
	tokNumber
	tokLiteral
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var punctuation = map[byte]tokenKind{
	'[': tokOpenArray, ']': tokCloseArray,
	'{': tokOpenObject, '}': tokCloseObject,
	':': tokColon, ',': tokComma,
}

type lexer struct {
	src []byte
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	if k, ok := punctuation[c]; ok {
		l.pos++
		return token{kind: k, pos: start}, nil
	}

	switch {
	case c == '"':
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			if l.src[l.pos] == '\\' {
				l.pos++
			}
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		l.pos++
		return token{kind: tokString, text: string(l.src[start+1 : l.pos-1]), pos: start}, nil

	case c == '-' || (c >= '0' && c <= '9'):
		l.pos++
		for l.pos < len(l.src) && isNumberByte(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokNumber, text: string(l.src[start:l.pos]), pos: start}, nil

	case c >= 'a' && c <= 'z':
		for l.pos < len(l.src) && l.src[l.pos] >= 'a' && l.src[l.pos] <= 'z' {
			l.pos++
		}
		return token{kind: tokLiteral, text: string(l.src[start:l.pos]), pos: start}, nil
	}
	return token{}, l.errorf(start, "unexpected %q", c)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-'
}

func (l *lexer) errorf(pos int, format string, args ...interface{}) error {
	return errors.Wrapf(diskimg.ErrCorruptStream, "offset %d: %s", pos, fmt.Sprintf(format, args...))
}

// state is the position of the parser in the cylinder/head/sector nesting.
type state int

const (
	stateStart state = iota
	stateDisk
	stateCylinder
	stateHead
	stateSector
	stateKey
	stateValue
	stateData
	stateDone
)

// rawSector is one sector object as it appears in the file.
type rawSector struct {
	sector  int
	length  int
	pattern uint32
	data    []byte
	hasID   bool
}

// bytes expands the sector to length bytes: the pattern repeated, with the
// data words laid over it.
func (s *rawSector) bytes() []byte {
	out := make([]byte, s.length)
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], s.pattern)
	for i := range out {
		out[i] = word[i&3]
	}
	copy(out, s.data)
	return out
}

// rawDisk holds the parsed sectors indexed by cylinder and head.
type rawDisk struct {
	cylinders [][][]rawSector
}

type parser struct {
	lex   lexer
	state state
	disk  rawDisk

	cyl, head int
	cur       rawSector
	key       string
	expectSep bool
}

func parse(src []byte) (*rawDisk, error) {
	trimmed := bytes.TrimLeft(src, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, diskimg.ErrNotThisFormat
	}
	p := &parser{lex: lexer{src: src}}
	for p.state != stateDone {
		tok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if err := p.step(tok); err != nil {
			return nil, err
		}
	}
	if tok, err := p.lex.next(); err != nil || tok.kind != tokEOF {
		return nil, p.lex.errorf(tok.pos, "data after the disk array")
	}
	return &p.disk, nil
}

func (p *parser) unexpected(tok token) error {
	return p.lex.errorf(tok.pos, "unexpected token %d in state %d", tok.kind, p.state)
}

// separator consumes a comma between elements and reports whether tok was
// one. Commas are only accepted after a complete element.
func (p *parser) separator(tok token) (bool, error) {
	if tok.kind != tokComma {
		return false, nil
	}
	if !p.expectSep {
		return true, p.unexpected(tok)
	}
	p.expectSep = false
	return true, nil
}

// opening checks that a new element may start here.
func (p *parser) opening(tok token) error {
	if p.expectSep {
		return p.lex.errorf(tok.pos, "missing comma")
	}
	return nil
}

func (p *parser) step(tok token) error {
	if tok.kind == tokEOF {
		return p.lex.errorf(tok.pos, "unexpected end of file")
	}

	switch p.state {
	case stateStart:
		if tok.kind != tokOpenArray {
			return diskimg.ErrNotThisFormat
		}
		p.state = stateDisk

	case stateDisk:
		if sep, err := p.separator(tok); sep || err != nil {
			return err
		}
		switch tok.kind {
		case tokOpenArray:
			if err := p.opening(tok); err != nil {
				return err
			}
			if len(p.disk.cylinders) >= maxCylinders {
				return p.lex.errorf(tok.pos, "more than %d cylinders", maxCylinders)
			}
			p.disk.cylinders = append(p.disk.cylinders, nil)
			p.head = 0
			p.state = stateCylinder
		case tokCloseArray:
			p.state = stateDone
		default:
			return p.unexpected(tok)
		}

	case stateCylinder:
		if sep, err := p.separator(tok); sep || err != nil {
			return err
		}
		switch tok.kind {
		case tokOpenArray:
			if err := p.opening(tok); err != nil {
				return err
			}
			c := &p.disk.cylinders[p.cyl]
			if len(*c) >= maxHeads {
				return p.lex.errorf(tok.pos, "more than %d heads on cylinder %d", maxHeads, p.cyl)
			}
			*c = append(*c, nil)
			p.state = stateHead
		case tokCloseArray:
			p.cyl++
			p.expectSep = true
			p.state = stateDisk
		default:
			return p.unexpected(tok)
		}

	case stateHead:
		if sep, err := p.separator(tok); sep || err != nil {
			return err
		}
		switch tok.kind {
		case tokOpenObject:
			if err := p.opening(tok); err != nil {
				return err
			}
			p.cur = rawSector{}
			p.state = stateSector
		case tokCloseArray:
			p.head++
			p.expectSep = true
			p.state = stateCylinder
		default:
			return p.unexpected(tok)
		}

	case stateSector:
		if sep, err := p.separator(tok); sep || err != nil {
			return err
		}
		switch tok.kind {
		case tokString:
			if err := p.opening(tok); err != nil {
				return err
			}
			p.key = tok.text
			p.state = stateKey
		case tokCloseObject:
			return p.finishSector(tok)
		default:
			return p.unexpected(tok)
		}

	case stateKey:
		if tok.kind != tokColon {
			return p.unexpected(tok)
		}
		p.state = stateValue

	case stateValue:
		return p.value(tok)

	case stateData:
		if sep, err := p.separator(tok); sep || err != nil {
			return err
		}
		switch tok.kind {
		case tokNumber:
			if err := p.opening(tok); err != nil {
				return err
			}
			w, err := word(tok.text)
			if err != nil {
				return p.lex.errorf(tok.pos, "data word %q: %v", tok.text, err)
			}
			p.cur.data = binary.LittleEndian.AppendUint32(p.cur.data, w)
			p.expectSep = true
		case tokCloseArray:
			p.expectSep = true
			p.state = stateSector
		default:
			return p.unexpected(tok)
		}
	}
	return nil
}

func (p *parser) value(tok token) error {
	p.state = stateSector
	p.expectSep = true

	switch p.key {
	case "data":
		if tok.kind != tokOpenArray {
			return p.unexpected(tok)
		}
		p.expectSep = false
		p.state = stateData
		return nil
	case "sector", "length", "pattern":
		if tok.kind != tokNumber {
			return p.unexpected(tok)
		}
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return p.lex.errorf(tok.pos, "%s value %q: %v", p.key, tok.text, err)
		}
		switch p.key {
		case "sector":
			p.cur.sector, p.cur.hasID = int(n), true
		case "length":
			p.cur.length = int(n)
		case "pattern":
			p.cur.pattern = uint32(n)
		}
		return nil
	}

	// Other keys carry scalars the loader has no use for.
	switch tok.kind {
	case tokNumber, tokString, tokLiteral:
		return nil
	}
	return p.unexpected(tok)
}

func (p *parser) finishSector(tok token) error {
	s := p.cur
	switch {
	case !s.hasID:
		return p.lex.errorf(tok.pos, "sector without a number")
	case s.sector < 0 || s.sector > 255:
		return p.lex.errorf(tok.pos, "sector number %d", s.sector)
	case s.length <= 0 || s.length > geometry.CodeSize(geometry.MaxSizeCode):
		return p.lex.errorf(tok.pos, "sector %d length %d", s.sector, s.length)
	case len(s.data) > s.length+3:
		return p.lex.errorf(tok.pos, "sector %d holds %d bytes of data for length %d", s.sector, len(s.data), s.length)
	}

	heads := p.disk.cylinders[p.cyl]
	sectors := &heads[len(heads)-1]
	if len(*sectors) >= maxSectors {
		return p.lex.errorf(tok.pos, "more than %d sectors on cylinder %d head %d", maxSectors, p.cyl, p.head)
	}
	*sectors = append(*sectors, s)
	p.expectSep = true
	p.state = stateHead
	return nil
}

// word parses a data word. Producers write them signed or unsigned.
func word(s string) (uint32, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < -1<<31 || n > 1<<32-1 {
		return 0, strconv.ErrRange
	}
	return uint32(n), nil
}
