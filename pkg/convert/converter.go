package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/models"
	appErrors "github.com/noah-isme/tale-download-api/pkg/errors"
)

const (
	// A4 at 300 DPI.
	defaultMaxWidth  = 2480
	defaultMaxHeight = 3508

	defaultJPEGQuality = 85
)

// Config tunes image normalisation.
type Config struct {
	MaxWidth    int
	MaxHeight   int
	JPEGQuality int
}

// Result is normalised content ready to be named and archived.
type Result struct {
	Mode      models.ConversionMode
	Extension string
	MIME      string
	Content   []byte
}

// Converter turns PDFs, Office files and images into archive content.
type Converter struct {
	cfg    Config
	logger *zap.Logger
}

// NewConverter constructs a Converter, filling zero values with defaults.
func NewConverter(cfg Config, logger *zap.Logger) *Converter {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = defaultMaxWidth
	}
	if cfg.MaxHeight <= 0 {
		cfg.MaxHeight = defaultMaxHeight
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaultJPEGQuality
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{cfg: cfg, logger: logger}
}

// Normalize detects the format of content and returns it as PDF or passthrough.
func (c *Converter) Normalize(content []byte, hint string) (*Result, error) {
	ext := DetectFormat(content, hint)
	switch ext {
	case ".pdf":
		return &Result{Mode: models.ConversionModePDF, Extension: ext, MIME: MIMEType(ext), Content: content}, nil
	case ".doc", ".docx", ".xlsx", ".pptx":
		return &Result{Mode: models.ConversionModePassthrough, Extension: ext, MIME: MIMEType(ext), Content: content}, nil
	case ".jpg", ".png":
		pdf, err := c.imageToPDF(content)
		if err != nil {
			return nil, err
		}
		return &Result{Mode: models.ConversionModePDF, Extension: ".pdf", MIME: MIMEType(".pdf"), Content: pdf}, nil
	}

	label := ext
	if label == "" {
		label = "unknown"
	}
	return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unsupported format %s", label))
}

// PrepareImage decodes, downsizes and re-encodes an image. It reports the
// gofpdf image type of the encoded payload ("PNG" or "JPG").
func (c *Converter) PrepareImage(content []byte) ([]byte, string, image.Rectangle, error) {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", image.Rectangle{}, appErrors.WrapKind(err, appErrors.ErrConversionFailed, "decode image")
	}
	alpha := hasAlphaChannel(content, img)

	bounds := img.Bounds()
	if bounds.Dx() > c.cfg.MaxWidth || bounds.Dy() > c.cfg.MaxHeight {
		img = imaging.Fit(img, c.cfg.MaxWidth, c.cfg.MaxHeight, imaging.Lanczos)
	}
	// gofpdf only reads 8-bit PNGs.
	flat := imaging.Clone(img)

	buf := &bytes.Buffer{}
	imageType := "JPG"
	if alpha {
		imageType = "PNG"
		err = imaging.Encode(buf, flat, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	} else {
		err = imaging.Encode(buf, flat, imaging.JPEG, imaging.JPEGQuality(c.cfg.JPEGQuality))
	}
	if err != nil {
		return nil, "", image.Rectangle{}, appErrors.WrapKind(err, appErrors.ErrConversionFailed, "encode image")
	}
	return buf.Bytes(), imageType, flat.Bounds(), nil
}

func (c *Converter) imageToPDF(content []byte) ([]byte, error) {
	encoded, imageType, bounds, err := c.PrepareImage(content)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	options := gofpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader("page", options, bytes.NewReader(encoded))

	pageWidth, pageHeight := pdf.GetPageSize()
	width, height := float64(bounds.Dx()), float64(bounds.Dy())
	scale := pageWidth / width
	if s := pageHeight / height; s < scale {
		scale = s
	}
	width, height = width*scale, height*scale
	pdf.ImageOptions("page", (pageWidth-width)/2, (pageHeight-height)/2, width, height, false, options, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, appErrors.WrapKind(err, appErrors.ErrConversionFailed, "build pdf page")
	}
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, appErrors.WrapKind(err, appErrors.ErrConversionFailed, "render pdf")
	}
	c.logger.Debug("image converted to pdf",
		zap.String("image_type", imageType),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
	)
	return buf.Bytes(), nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// hasAlphaChannel reports whether the source carries transparency information,
// whether or not any pixel actually uses it. PNGs are judged by their header:
// colour types 4 and 6 or a tRNS chunk. Other formats by their colour model.
func hasAlphaChannel(content []byte, img image.Image) bool {
	if bytes.HasPrefix(content, pngSignature) {
		return pngHasAlpha(content)
	}
	switch m := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.Alpha, *image.Alpha16:
		return true
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

func pngHasAlpha(content []byte) bool {
	const (
		colorTypeOffset = 25
		grayAlpha       = 4
		truecolorAlpha  = 6
	)
	if len(content) > colorTypeOffset {
		if ct := content[colorTypeOffset]; ct == grayAlpha || ct == truecolorAlpha {
			return true
		}
	}
	// Chunks: 4-byte length, 4-byte type, data, 4-byte CRC.
	for pos := len(pngSignature); pos+8 <= len(content); {
		length := int(binary.BigEndian.Uint32(content[pos : pos+4]))
		kind := string(content[pos+4 : pos+8])
		switch kind {
		case "tRNS":
			return true
		case "IDAT", "IEND":
			return false
		}
		pos += 12 + length
	}
	return false
}
