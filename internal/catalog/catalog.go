// Package catalog is the closed registry of pretrained model kinds and the
// canonical location each one is acquired from.
package catalog

import (
	"fmt"
	"slices"
	"strings"
)

// Kind identifies a known pretrained architecture.
type Kind string

const (
	// KindResNet50 is ResNet-50 v2 from the ONNX model zoo.
	KindResNet50 Kind = "resnet50"

	// KindVGG19 is VGG-19 from the ONNX model zoo.
	KindVGG19 Kind = "vgg19"
)

// Extension is the file extension of the cached interchange-format artifact.
const Extension = ".onnx"

// Entry is a single catalog row.
type Entry struct {
	Kind     Kind   `json:"kind"`
	URL      string `json:"url"`
	BaseName string `json:"base_name"`
}

// FileName returns the cached artifact file name for the entry.
func (e Entry) FileName() string {
	return e.BaseName + Extension
}

// Catalog maps a model kind to its entry.
type Catalog map[Kind]Entry

// Default is the fixed registry. New architectures are added as rows here.
var Default = Catalog{
	KindResNet50: {
		Kind:     KindResNet50,
		URL:      "https://s3.amazonaws.com/onnx-model-zoo/resnet/resnet50v2/resnet50v2.onnx",
		BaseName: string(KindResNet50),
	},
	KindVGG19: {
		Kind:     KindVGG19,
		URL:      "https://s3.amazonaws.com/onnx-model-zoo/vgg/vgg19/vgg19.onnx",
		BaseName: string(KindVGG19),
	},
}

// Resolve returns the entry registered for kind.
func (c Catalog) Resolve(kind Kind) (Entry, error) {
	entry, ok := c[kind]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnsupportedModelKind, string(kind))
	}

	return entry, nil
}

// Kinds returns the registered kinds in lexical order.
func (c Catalog) Kinds() []Kind {
	kinds := make([]Kind, 0, len(c))
	for k := range c {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)

	return kinds
}

// Resolve looks kind up in the default catalog.
func Resolve(kind Kind) (Entry, error) {
	return Default.Resolve(kind)
}

// Kinds lists the kinds of the default catalog.
func Kinds() []Kind {
	return Default.Kinds()
}

// ParseKind converts a user supplied identifier into a registered Kind.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, err := Resolve(kind); err != nil {
		return "", err
	}

	return kind, nil
}
