package generators

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
)

// averageLuminance decodes an image file and returns its mean grayscale
// value normalized to [0,1], used by the heatmap fallback path.
func averageLuminance(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return 0, err
	}
	return meanLuminance(img), nil
}

func meanLuminance(img image.Image) float64 {
	bounds := img.Bounds()
	var sum float64
	count := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			gray := color.GrayModel.Convert(color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}).(color.Gray).Y
			sum += float64(gray)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count) / 255.0
}

// renderBarChartPNG draws a simple normalized bar chart of values, one
// column per value, used for the optional heatmap PNG render (spec
// §4.4.7).
func renderBarChartPNG(values []float64) image.Image {
	const height = 120
	width := len(values)
	if width < 1 {
		width = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{20, 20, 20, 255}
	bar := color.RGBA{80, 160, 255, 255}
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, bg)
		}
	}
	for x, v := range values {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		h := int(v * float64(height))
		for y := height - h; y < height; y++ {
			img.Set(x, y, bar)
		}
	}
	return img
}

// writePNGAtomic encodes img as PNG and writes it via the package's
// temp-then-rename discipline.
func writePNGAtomic(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes(), 0o644)
}
