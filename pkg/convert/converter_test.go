package convert

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

func officeZip(t *testing.T, member string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create(member)
	require.NoError(t, err)
	_, err = w.Write([]byte("<xml/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func opaqueJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x += 7 {
		img.Set(x, x%height, color.RGBA{R: 200, G: 30, B: 30, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func transparentPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: 120, B: 240, A: uint8((x * 255) / width)})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

// rgbaPNG writes an 8-bit truecolour+alpha PNG where every pixel has the given
// alpha. image/png drops the alpha channel of opaque images, so it is built by hand.
func rgbaPNG(t *testing.T, width, height int, alpha uint8) []byte {
	t.Helper()
	chunk := func(buf *bytes.Buffer, kind string, data []byte) {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(data)))
		buf.Write(length[:])
		crc := crc32.NewIEEE()
		crc.Write([]byte(kind))
		crc.Write(data)
		buf.WriteString(kind)
		buf.Write(data)
		var sum [4]byte
		binary.BigEndian.PutUint32(sum[:], crc.Sum32())
		buf.Write(sum[:])
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolour with alpha

	raw := &bytes.Buffer{}
	for y := 0; y < height; y++ {
		raw.WriteByte(0) // filter: none
		for x := 0; x < width; x++ {
			raw.Write([]byte{40, 160, 90, alpha})
		}
	}
	compressed := &bytes.Buffer{}
	zw := zlib.NewWriter(compressed)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out := &bytes.Buffer{}
	out.Write(pngSignature)
	chunk(out, "IHDR", ihdr)
	chunk(out, "IDAT", compressed.Bytes())
	chunk(out, "IEND", nil)
	return out.Bytes()
}

func palettedPNG(t *testing.T, palette color.Palette) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 8, 8), palette)
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestPrepareImageFollowsAlphaChannel(t *testing.T) {
	conv := NewConverter(Config{}, nil)
	opaqueRed := color.NRGBA{R: 255, A: 255}

	cases := []struct {
		name    string
		content []byte
		want    string
	}{
		{"opaque rgba png keeps png", rgbaPNG(t, 12, 9, 255), "PNG"},
		{"translucent rgba png", rgbaPNG(t, 12, 9, 128), "PNG"},
		{"palette with transparent entry", palettedPNG(t, color.Palette{opaqueRed, color.NRGBA{}}), "PNG"},
		{"opaque palette", palettedPNG(t, color.Palette{opaqueRed}), "JPG"},
		{"jpeg", opaqueJPEG(t, 40, 30), "JPG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, imageType, _, err := conv.PrepareImage(tc.content)
			require.NoError(t, err)
			require.Equal(t, tc.want, imageType)
			_, err = conv.Normalize(tc.content, "scan.png")
			require.NoError(t, err)
			require.NotEmpty(t, encoded)
		})
	}
}

func TestDetectFormat(t *testing.T) {
	ole := append(append([]byte{}, oleMagic...), make([]byte, 64)...)
	oleWord := append(append([]byte{}, ole...), utf16LE("WordDocument")...)

	cases := []struct {
		name    string
		content []byte
		hint    string
		want    string
	}{
		{"pdf signature wins over hint", []byte("%PDF-1.7 body"), "foto.jpg", ".pdf"},
		{"docx", officeZip(t, "word/document.xml"), "", ".docx"},
		{"xlsx", officeZip(t, "xl/workbook.xml"), "archivo.bin", ".xlsx"},
		{"pptx", officeZip(t, "ppt/presentation.xml"), "", ".pptx"},
		{"plain zip falls back to hint", officeZip(t, "data.txt"), "paquete.zip", ".zip"},
		{"legacy word", oleWord, "", ".doc"},
		{"ole without word marker uses hint", ole, "hoja.xls", ".xls"},
		{"jpeg by decoding", opaqueJPEG(t, 8, 8), "", ".jpg"},
		{"png by decoding", transparentPNG(t, 4, 4), "scan.pdf", ".png"},
		{"hint from url", []byte("garbage"), "https://cdn.example.com/docs/Minuta.JPEG?sig=abc", ".jpg"},
		{"unknown", []byte("garbage"), "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectFormat(tc.content, tc.hint))
		})
	}
}

func TestNormalizePassthrough(t *testing.T) {
	conv := NewConverter(Config{}, nil)

	pdf := []byte("%PDF-1.4 minimal")
	res, err := conv.Normalize(pdf, "x.pdf")
	require.NoError(t, err)
	require.Equal(t, models.ConversionModePDF, res.Mode)
	require.Equal(t, ".pdf", res.Extension)
	require.Equal(t, pdf, res.Content)

	xlsx := officeZip(t, "xl/workbook.xml")
	res, err = conv.Normalize(xlsx, "")
	require.NoError(t, err)
	require.Equal(t, models.ConversionModePassthrough, res.Mode)
	require.Equal(t, ".xlsx", res.Extension)
	require.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", res.MIME)
	require.Equal(t, xlsx, res.Content)
}

func TestNormalizeImagesBecomePDF(t *testing.T) {
	conv := NewConverter(Config{}, nil)

	for name, content := range map[string][]byte{
		"jpeg": opaqueJPEG(t, 40, 60),
		"png":  transparentPNG(t, 30, 20),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := conv.Normalize(content, "")
			require.NoError(t, err)
			require.Equal(t, models.ConversionModePDF, res.Mode)
			require.Equal(t, ".pdf", res.Extension)
			require.True(t, bytes.HasPrefix(res.Content, []byte("%PDF")))
		})
	}
}

func TestPrepareImageDownscalesAndKeepsAlpha(t *testing.T) {
	conv := NewConverter(Config{}, nil)

	encoded, imageType, bounds, err := conv.PrepareImage(opaqueJPEG(t, 2600, 3600))
	require.NoError(t, err)
	require.Equal(t, "JPG", imageType)
	require.LessOrEqual(t, bounds.Dx(), 2480)
	require.LessOrEqual(t, bounds.Dy(), 3508)
	require.InDelta(t, 2600.0/3600.0, float64(bounds.Dx())/float64(bounds.Dy()), 0.01)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, bounds.Dx(), cfg.Width)

	encoded, imageType, bounds, err = conv.PrepareImage(transparentPNG(t, 30, 20))
	require.NoError(t, err)
	require.Equal(t, "PNG", imageType)
	require.Equal(t, 30, bounds.Dx())
	_, format, err = image.DecodeConfig(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, "png", format)
}

func TestNormalizeUnsupported(t *testing.T) {
	conv := NewConverter(Config{}, nil)
	_, err := conv.Normalize([]byte("hello"), "notas.txt")
	require.Error(t, err)
	require.True(t, errors.Is(err, appErrors.ErrUnsupportedFormat))

	_, err = conv.Normalize([]byte("hello"), "")
	require.True(t, errors.Is(err, appErrors.ErrUnsupportedFormat))
	require.Contains(t, err.Error(), "unknown")
}

func TestNormalizeCorruptImageFailsConversion(t *testing.T) {
	conv := NewConverter(Config{}, nil)
	_, err := conv.Normalize([]byte("not really a png"), "foto.png")
	require.Error(t, err)
	require.True(t, errors.Is(err, appErrors.ErrConversionFailed))
}
