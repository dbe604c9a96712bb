// Package deobfuscator unwraps common script obfuscation layers so the
// pattern matcher sees the payload an attacker tried to hide. Decoding is
// purely textual: encoded literals are replaced with their plaintext
// in-place, no code is ever executed.
package deobfuscator

// maxLayers bounds recursive unwrapping. Real packers rarely nest more
// than three layers; six leaves headroom without risking runaway growth
// on adversarial input.
const maxLayers = 6

// maxDecodedSize aborts unwrapping when the working copy grows past this
// size. Decompression bombs expand, plain decoding never does.
const maxDecodedSize = 4 * 1024 * 1024

// Decoder unwraps one obfuscation layer. Applies is a cheap pre-check;
// Decode returns the content unchanged when nothing decodable is found.
type Decoder interface {
	Name() string
	Applies(content string) bool
	Decode(content string) (string, error)
}

// Pipeline runs registered decoders to a fixpoint.
type Pipeline struct {
	decoders []Decoder
}

// NewPipeline returns a pipeline with the standard decoder set.
func NewPipeline() *Pipeline {
	return &Pipeline{
		decoders: []Decoder{
			newPackedEval(),
			newBase64Literal(),
			newCharMap(),
		},
	}
}

// Unwrap repeatedly applies decoders until no decoder changes the
// content or the layer bound is hit. It returns the fully unwrapped
// content and the names of the layers peeled, in order. When nothing
// decodes, the original content comes back with a nil layer list.
func (p *Pipeline) Unwrap(content string) (string, []string) {
	result := content
	var layers []string

	for depth := 0; depth < maxLayers; depth++ {
		changed := false
		for _, d := range p.decoders {
			if !d.Applies(result) {
				continue
			}
			next, err := d.Decode(result)
			if err != nil || next == result {
				continue
			}
			if len(next) > maxDecodedSize {
				return result, layers
			}
			result = next
			layers = append(layers, d.Name())
			changed = true
			break
		}
		if !changed {
			break
		}
	}
	return result, layers
}
