package display_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/image/bmp"

	"github.com/sarchlab/corevm/devices/vga"
	"github.com/sarchlab/corevm/display"
)

var (
	black     = color.RGBA{A: 0xFF}
	blue      = color.RGBA{B: 170, A: 0xFF}
	red       = color.RGBA{R: 170, A: 0xFF}
	lightGray = color.RGBA{R: 170, G: 170, B: 170, A: 0xFF}
	white     = color.RGBA{R: 255, G: 255, B: 255, A: 0xFF}
)

func cellPixels(img *image.RGBA, col, row int) []color.RGBA {
	var px []color.RGBA
	for y := 0; y < display.CellHeight; y++ {
		for x := 0; x < display.CellWidth; x++ {
			px = append(px, img.RGBAAt(col*display.CellWidth+x, row*display.CellHeight+y))
		}
	}
	return px
}

var _ = Describe("Render", func() {
	var s vga.Snapshot

	BeforeEach(func() {
		s = vga.NewAdapter().Snapshot()
		s.Cursor = -1
	})

	Context("text mode", func() {
		It("should rasterize 80x25 cells at 720x400", func() {
			img := display.Render(&s)

			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 720, 400)))
			Expect(cellPixels(img, 0, 0)).To(HaveEach(black))
		})

		It("should draw glyphs in the foreground color on the background", func() {
			s.Text[81] = 0x1F<<8 | 'A'

			img := display.Render(&s)
			px := cellPixels(img, 1, 1)

			Expect(px).To(ContainElement(white))
			Expect(px).To(ContainElement(blue))
			Expect(px).NotTo(ContainElement(black))
			Expect(img.RGBAAt(0, 0)).To(Equal(black))
		})

		It("should leave spaces as plain background", func() {
			s.Text[0] = 0x4F<<8 | ' '

			Expect(cellPixels(display.Render(&s), 0, 0)).To(HaveEach(red))
		})

		It("should honor the start address", func() {
			s.Text[vga.TextColumns] = 0x1F<<8 | 'X'
			s.TextStart = vga.TextColumns

			Expect(cellPixels(display.Render(&s), 0, 0)).To(ContainElement(blue))
		})

		It("should underline the cursor cell in its foreground color", func() {
			s.Cursor = 2
			img := display.Render(&s)

			Expect(img.RGBAAt(2*display.CellWidth, display.CellHeight-1)).To(Equal(lightGray))
			Expect(img.RGBAAt(2*display.CellWidth, 0)).To(Equal(black))
			Expect(img.RGBAAt(display.CellWidth, display.CellHeight-1)).To(Equal(black))
		})

		It("should not draw a hidden cursor", func() {
			img := display.Render(&s)
			Expect(img.RGBAAt(0, display.CellHeight-1)).To(Equal(black))
		})
	})

	Context("indexed modes", func() {
		BeforeEach(func() {
			s.Mode = vga.Graphics320x200()
			s.Pixels = make([]byte, s.Mode.BufferSize())
		})

		It("should look pixels up in the palette", func() {
			s.Pixels[1] = 4
			s.Pixels[320] = 15

			img := display.Render(&s)

			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 320, 200)))
			Expect(img.RGBAAt(0, 0)).To(Equal(black))
			Expect(img.RGBAAt(1, 0)).To(Equal(red))
			Expect(img.RGBAAt(0, 1)).To(Equal(white))
		})

		It("should apply the pixel mask", func() {
			s.Pixels[0] = 0x14
			s.PixelMask = 0x0F

			Expect(display.Render(&s).RGBAAt(0, 0)).To(Equal(red))
		})

		It("should tolerate a short pixel buffer", func() {
			s.Pixels = []byte{1}

			img := display.Render(&s)

			Expect(img.RGBAAt(0, 0)).To(Equal(blue))
			Expect(img.RGBAAt(5, 5)).To(Equal(color.RGBA{}))
		})
	})

	Context("linear modes", func() {
		It("should decode 32 bpp as blue, green, red", func() {
			s.Mode = vga.LinearMode(2, 1, 32)
			s.Pixels = []byte{0x10, 0x20, 0x30, 0x00, 0xFF, 0x00, 0x00, 0x00}

			img := display.Render(&s)

			Expect(img.RGBAAt(0, 0)).To(Equal(color.RGBA{R: 0x30, G: 0x20, B: 0x10, A: 0xFF}))
			Expect(img.RGBAAt(1, 0)).To(Equal(color.RGBA{B: 0xFF, A: 0xFF}))
		})

		It("should decode 24 bpp", func() {
			s.Mode = vga.LinearMode(1, 1, 24)
			s.Pixels = []byte{0x01, 0x02, 0x03}

			Expect(display.Render(&s).RGBAAt(0, 0)).To(Equal(color.RGBA{R: 3, G: 2, B: 1, A: 0xFF}))
		})

		It("should decode 5:6:5 and 5:5:5", func() {
			s.Mode = vga.LinearMode(2, 1, 16)
			s.Pixels = []byte{0x00, 0xF8, 0xE0, 0x07}

			img := display.Render(&s)
			Expect(img.RGBAAt(0, 0)).To(Equal(color.RGBA{R: 255, A: 0xFF}))
			Expect(img.RGBAAt(1, 0)).To(Equal(color.RGBA{G: 255, A: 0xFF}))

			s.Mode = vga.LinearMode(1, 1, 15)
			s.Pixels = []byte{0x1F, 0x00}
			Expect(display.Render(&s).RGBAAt(0, 0)).To(Equal(color.RGBA{B: 255, A: 0xFF}))
		})

		It("should use the palette at 8 bpp", func() {
			s.Mode = vga.LinearMode(1, 1, 8)
			s.Pixels = []byte{1}

			Expect(display.Render(&s).RGBAAt(0, 0)).To(Equal(blue))
		})
	})
})

var _ = Describe("Screenshots", func() {
	var s vga.Snapshot

	BeforeEach(func() {
		s = vga.NewAdapter().Snapshot()
	})

	It("should pick the format from the extension", func() {
		Expect(display.FormatForPath("a.png")).To(Equal(display.FormatPNG))
		Expect(display.FormatForPath("a.BMP")).To(Equal(display.FormatBMP))
		Expect(display.FormatForPath("a.tif")).To(Equal(display.FormatTIFF))
		Expect(display.FormatForPath("a.tiff")).To(Equal(display.FormatTIFF))
		Expect(display.FormatForPath("screen")).To(Equal(display.FormatPNG))
	})

	It("should encode a decodable PNG", func() {
		var buf bytes.Buffer
		Expect(display.Encode(&buf, &s, display.FormatPNG)).To(Succeed())

		img, err := png.Decode(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(720))
		Expect(img.Bounds().Dy()).To(Equal(400))
	})

	It("should save a BMP file", func() {
		s.Mode = vga.Graphics320x200()
		s.Pixels = make([]byte, s.Mode.BufferSize())
		s.Pixels[0] = 4
		path := filepath.Join(GinkgoT().TempDir(), "screen.bmp")

		Expect(display.SaveScreenshot(path, &s)).To(Succeed())

		f, err := os.Open(path)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		img, err := bmp.Decode(f)
		Expect(err).NotTo(HaveOccurred())

		r, g, b, _ := img.At(0, 0).RGBA()
		Expect([]uint32{r >> 8, g >> 8, b >> 8}).To(Equal([]uint32{170, 0, 0}))
	})

	It("should report an unwritable path", func() {
		path := filepath.Join(GinkgoT().TempDir(), "missing", "screen.png")
		Expect(display.SaveScreenshot(path, &s)).To(MatchError(ContainSubstring("failed to create screenshot")))
	})
})
