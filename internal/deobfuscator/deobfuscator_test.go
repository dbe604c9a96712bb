package deobfuscator

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/base64"
	"strings"
	"testing"
)

func deflate(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter() failed: %v", err)
	}
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	w.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func zlibPack(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	w.Close()
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestUnwrap_Base64Literal(t *testing.T) {
	payload := `system($_GET['cmd']);`
	encoded := base64.StdEncoding.EncodeToString([]byte(payload))
	content := `<?php eval(base64_decode('` + encoded + `')); ?>`

	p := NewPipeline()
	out, layers := p.Unwrap(content)

	if !strings.Contains(out, payload) {
		t.Errorf("Unwrap() did not expose payload, got %q", out)
	}
	if len(layers) != 1 || layers[0] != "base64" {
		t.Errorf("layers = %v, want [base64]", layers)
	}
}

func TestUnwrap_GzinflateBase64(t *testing.T) {
	payload := `preg_replace("/x/e", $_POST['a'], "x"); // padding so the blob compresses into something nontrivial`
	content := `<?php eval(gzinflate(base64_decode("` + deflate(t, payload) + `"))); ?>`

	out, layers := NewPipeline().Unwrap(content)

	if !strings.Contains(out, "preg_replace") {
		t.Errorf("Unwrap() did not inflate payload, got %q", out)
	}
	if len(layers) == 0 || layers[0] != "packed" {
		t.Errorf("layers = %v, want packed first", layers)
	}
}

func TestUnwrap_GzuncompressBase64(t *testing.T) {
	payload := `assert(stripslashes($_REQUEST['payload'])); // filler filler filler filler filler`
	content := `<?php eval(gzuncompress(base64_decode("` + zlibPack(t, payload) + `"))); ?>`

	out, _ := NewPipeline().Unwrap(content)
	if !strings.Contains(out, "assert(stripslashes") {
		t.Errorf("Unwrap() did not uncompress payload, got %q", out)
	}
}

func TestUnwrap_NestedLayers(t *testing.T) {
	payload := `passthru($_GET['c']); // enough text to keep the compressor honest about its dictionary`
	inner := `eval(gzinflate(base64_decode("` + deflate(t, payload) + `")));`
	encoded := base64.StdEncoding.EncodeToString([]byte(inner))
	content := `<?php eval(base64_decode('` + encoded + `')); ?>`

	out, layers := NewPipeline().Unwrap(content)

	if !strings.Contains(out, "passthru") {
		t.Errorf("Unwrap() stopped early, got %q", out)
	}
	if len(layers) < 2 {
		t.Errorf("layers = %v, want at least two", layers)
	}
}

func TestUnwrap_Rot13(t *testing.T) {
	content := `<?php $f = str_rot13('riny'); $f($_POST['x']); ?>`

	out, layers := NewPipeline().Unwrap(content)
	if !strings.Contains(out, `"eval"`) {
		t.Errorf("Unwrap() did not rotate literal, got %q", out)
	}
	if len(layers) != 1 || layers[0] != "packed" {
		t.Errorf("layers = %v, want [packed]", layers)
	}
}

func TestUnwrap_Strrev(t *testing.T) {
	content := `<?php $f = strrev('edoced_46esab'); ?>`

	out, _ := NewPipeline().Unwrap(content)
	if !strings.Contains(out, `"base64_decode"`) {
		t.Errorf("Unwrap() did not reverse literal, got %q", out)
	}
}

func TestUnwrap_CharMapAlphabet(t *testing.T) {
	// Alphabet "behlo" url-encoded; indexes spell out "hello".
	content := `<?php $oO0=urldecode("%62%65%68%6c%6f");$x=$oO0{2}.$oO0{1}.$oO0{3}.$oO0{3}.$oO0{4}; ?>`

	out, layers := NewPipeline().Unwrap(content)
	if !strings.Contains(out, `"h"."e"."l"."l"."o"`) {
		t.Errorf("Unwrap() did not resolve indexed characters, got %q", out)
	}
	if len(layers) != 1 || layers[0] != "charmap" {
		t.Errorf("layers = %v, want [charmap]", layers)
	}
}

func TestUnwrap_BinaryBlobLeftAlone(t *testing.T) {
	blob := base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0xff, 0xfe, 0x80, 0x90, 0x03, 0x07, 0x9c, 0xab, 0xcd, 0xef, 0x11, 0x22})
	content := `<?php $img = base64_decode('` + blob + `'); ?>`

	out, layers := NewPipeline().Unwrap(content)
	if out != content {
		t.Errorf("Unwrap() rewrote a binary blob: %q", out)
	}
	if layers != nil {
		t.Errorf("layers = %v, want nil", layers)
	}
}

func TestUnwrap_PlainContentUntouched(t *testing.T) {
	content := `<?php echo base64_encode($data); ?>`

	out, layers := NewPipeline().Unwrap(content)
	if out != content || layers != nil {
		t.Errorf("Unwrap() changed clean content: %q, layers %v", out, layers)
	}
}

func TestShannon(t *testing.T) {
	if e := shannon(""); e != 0 {
		t.Errorf("shannon(empty) = %v, want 0", e)
	}
	if e := shannon("aaaaaaaa"); e != 0 {
		t.Errorf("shannon(uniform) = %v, want 0", e)
	}
	low := shannon("hello hello hello hello")
	high := shannon("a8F!kQ2#zX9$mW4%vB7&nC1*")
	if low >= high {
		t.Errorf("shannon ordering wrong: text %v >= random %v", low, high)
	}
}

func TestMostlyPrintable(t *testing.T) {
	if !mostlyPrintable([]byte("eval($_POST['x']);\n")) {
		t.Error("mostlyPrintable(script) = false")
	}
	if mostlyPrintable([]byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x80, 0x81, 0x82, 0x83, 0x84}) {
		t.Error("mostlyPrintable(binary) = true")
	}
	if mostlyPrintable(nil) {
		t.Error("mostlyPrintable(nil) = true")
	}
}
