package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/arthur-debert/loosevfs/pkg/loosevfs/vfs"
)

// The loose XML format:
//
//	<archive cacheDir="...">
//	  <dir targetInArchive="/" sourceOnDisk="src/main" excludes="**/*.bak"/>
//	  <file targetInArchive="/README.txt" sourceOnDisk="docs/readme.txt"/>
//	  <archive targetInArchive="/WEB-INF/lib/util.jar">
//	    <dir targetInArchive="/" sourceOnDisk="util/bin"/>
//	  </archive>
//	  <archive targetInArchive="/WEB-INF/lib/shared.jar" ref="shared"/>
//	  <define name="shared">
//	    <dir targetInArchive="/" sourceOnDisk="shared/bin"/>
//	  </define>
//	</archive>
//
// Rules keep document order, so elements are read one token at a time
// rather than into per-kind slices.
type xmlDocument struct {
	doc *Document
}

func parseXML(data []byte) (*Document, error) {
	x := xmlDocument{doc: &Document{Archives: make(map[string][]Rule)}}
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	sortNames(x.doc.Names)
	return x.doc, nil
}

func (x *xmlDocument) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != "archive" {
		return fmt.Errorf("root element <%s>, want <archive>", start.Name.Local)
	}
	x.doc.CacheDir = attr(start, "cacheDir")

	index := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "define" {
				name := attr(t, "name")
				if name == "" {
					return &Error{Reason: "define", Cause: fmt.Errorf("%w: <define> without name", ErrFormat)}
				}
				if _, dup := x.doc.Archives[name]; dup {
					return &Error{Archive: name, Reason: "define", Cause: fmt.Errorf("%w: defined twice", ErrFormat)}
				}
				rules, err := decodeChildren(dec, name)
				if err != nil {
					return err
				}
				x.doc.Archives[name] = rules
				x.doc.Names = append(x.doc.Names, name)
				continue
			}
			r, err := decodeRule(dec, t, "", index)
			if err != nil {
				return err
			}
			x.doc.Rules = append(x.doc.Rules, r)
			index++
		case xml.EndElement:
			return nil
		}
	}
}

// decodeChildren reads rule elements until the enclosing element ends.
func decodeChildren(dec *xml.Decoder, archive string) ([]Rule, error) {
	var rules []Rule
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r, err := decodeRule(dec, t, archive, len(rules))
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		case xml.EndElement:
			return rules, nil
		}
	}
}

func decodeRule(dec *xml.Decoder, start xml.StartElement, archive string, index int) (Rule, error) {
	r := Rule{
		Location: attr(start, "targetInArchive"),
		Disk:     attr(start, "sourceOnDisk"),
		Excludes: attr(start, "excludes"),
		Ref:      attr(start, "ref"),
	}
	switch start.Name.Local {
	case "dir":
		r.Kind = vfs.KindDirectory
	case "file":
		r.Kind = vfs.KindFile
	case "archive":
		r.Kind = vfs.KindArchive
		children, err := decodeChildren(dec, archive)
		if err != nil {
			return Rule{}, err
		}
		r.Rules = children
		return r, validate(archive, index, r)
	default:
		return Rule{}, &Error{
			Archive: archive,
			Reason:  fmt.Sprintf("rule %d", index),
			Cause:   fmt.Errorf("%w: unknown element <%s>", ErrFormat, start.Name.Local),
		}
	}
	if err := dec.Skip(); err != nil {
		return Rule{}, err
	}
	return r, validate(archive, index, r)
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
