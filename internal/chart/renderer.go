package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"btc-stream/internal/domain"
	"btc-stream/internal/service"
)

const (
	defaultChartWidth  = 960
	defaultChartHeight = 640
	maxChartPoints     = 720
)

var (
	colBackground = color.RGBA{R: 250, G: 252, B: 255, A: 255}
	colGrid       = color.RGBA{R: 225, G: 232, B: 240, A: 255}
	colPrice      = color.RGBA{R: 58, G: 64, B: 90, A: 255}
	colBand       = color.RGBA{R: 104, G: 122, B: 146, A: 255}
	colUp         = color.RGBA{R: 18, G: 140, B: 126, A: 255}
	colDown       = color.RGBA{R: 210, G: 61, B: 87, A: 255}
	colVol        = color.RGBA{R: 120, G: 139, B: 164, A: 255}
)

// One colour per entry of domain.MovingAverageWindows.
var smaColors = []color.RGBA{
	{R: 62, G: 106, B: 214, A: 255},
	{R: 255, G: 149, B: 0, A: 255},
	{R: 142, G: 68, B: 173, A: 255},
}

type Image struct {
	MimeType string
	Width    int
	Height   int
	Bytes    []byte
}

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderPriceChart draws the table's price line with its moving averages in
// the main panel and per-point change bars plus rolling volatility below.
func (r *Renderer) RenderPriceChart(points []domain.DataPoint) (*Image, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("need at least 2 points to render chart")
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Value.InexactFloat64()
	}

	overlays := make([][]float64, len(domain.MovingAverageWindows))
	for i, w := range domain.MovingAverageWindows {
		overlays[i] = downsample(service.MovingAverageSeries(prices, w), maxChartPoints)
	}
	vol := downsample(rollingStd(prices, domain.VolatilityWindow), maxChartPoints)
	prices = downsample(prices, maxChartPoints)

	img := image.NewRGBA(image.Rect(0, 0, defaultChartWidth, defaultChartHeight))
	fillRect(img, img.Bounds(), colBackground)

	mainRect := image.Rect(60, 20, defaultChartWidth-20, (defaultChartHeight*72)/100)
	auxRect := image.Rect(60, mainRect.Max.Y+16, defaultChartWidth-20, defaultChartHeight-30)
	drawGrid(img, mainRect, 8, 6)
	drawGrid(img, auxRect, 8, 3)

	minV, maxV := finiteBounds(prices)
	for _, o := range overlays {
		lo, hi := finiteBounds(o)
		if hasFinite(o) {
			minV = math.Min(minV, lo)
			maxV = math.Max(maxV, hi)
		}
	}
	drawSeries(img, mainRect, prices, minV, maxV, colPrice)
	for i, o := range overlays {
		drawSeries(img, mainRect, o, minV, maxV, smaColors[i%len(smaColors)])
	}

	drawDeltaBars(img, auxRect, prices)
	if hasFinite(vol) {
		lo, hi := finiteBounds(vol)
		drawSeries(img, auxRect, vol, math.Min(0, lo), hi, colBand)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Image{
		MimeType: "image/png",
		Width:    defaultChartWidth,
		Height:   defaultChartHeight,
		Bytes:    buf.Bytes(),
	}, nil
}

func drawDeltaBars(img *image.RGBA, rect image.Rectangle, prices []float64) {
	vals := make([]float64, len(prices))
	vals[0] = math.NaN()
	for i := 1; i < len(prices); i++ {
		vals[i] = prices[i] - prices[i-1]
	}
	minV, maxV := finiteBounds(vals)
	if minV > 0 {
		minV = 0
	}
	if maxV < 0 {
		maxV = 0
	}
	drawHorizontalValueLine(img, rect, 0, minV, maxV, colBand)

	barW := max(1, (rect.Dx()-10)/len(vals)-1)
	zeroY := mapValueToY(0, minV, maxV, rect)
	for i, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		col := colUp
		if v < 0 {
			col = colDown
		} else if v == 0 {
			col = colVol
		}
		x := mapIndexToX(i, len(vals), rect)
		y := mapValueToY(v, minV, maxV, rect)
		fillRect(img, image.Rect(x-barW/2, min(y, zeroY), x+barW/2+1, max(y, zeroY)+1), col)
	}
}

// downsample keeps at most n evenly spaced samples, always including the last.
func downsample(values []float64, n int) []float64 {
	if len(values) <= n || n < 2 {
		return values
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = values[(i*(len(values)-1))/(n-1)]
	}
	return out
}

func rollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i+1 < window {
			continue
		}
		_, s := meanStd(values[i+1-window : i+1])
		out[i] = s
	}
	return out
}

func drawSeries(img *image.RGBA, rect image.Rectangle, series []float64, minV, maxV float64, col color.RGBA) {
	lastX, lastY := -1, -1
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			lastX, lastY = -1, -1
			continue
		}
		x := mapIndexToX(i, len(series), rect)
		y := mapValueToY(v, minV, maxV, rect)
		if lastX >= 0 {
			drawLine(img, lastX, lastY, x, y, col)
		}
		lastX, lastY = x, y
	}
}

func drawGrid(img *image.RGBA, rect image.Rectangle, verticalLines, horizontalLines int) {
	for i := 0; i <= verticalLines; i++ {
		x := rect.Min.X + (rect.Dx()*i)/max(1, verticalLines)
		drawLine(img, x, rect.Min.Y, x, rect.Max.Y, colGrid)
	}
	for i := 0; i <= horizontalLines; i++ {
		y := rect.Min.Y + (rect.Dy()*i)/max(1, horizontalLines)
		drawLine(img, rect.Min.X, y, rect.Max.X, y, colGrid)
	}
}

func drawHorizontalValueLine(img *image.RGBA, rect image.Rectangle, value, minV, maxV float64, col color.RGBA) {
	y := mapValueToY(value, minV, maxV, rect)
	drawLine(img, rect.Min.X, y, rect.Max.X, y, col)
}

func mapIndexToX(idx, total int, rect image.Rectangle) int {
	if total <= 1 {
		return rect.Min.X
	}
	return rect.Min.X + (idx*(rect.Dx()-1))/(total-1)
}

func mapValueToY(value, minV, maxV float64, rect image.Rectangle) int {
	if maxV <= minV {
		return rect.Max.Y
	}
	ratio := (value - minV) / (maxV - minV)
	ratio = math.Max(0, math.Min(1, ratio))
	return rect.Max.Y - int(ratio*float64(rect.Dy()-1))
}

func hasFinite(values []float64) bool {
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func finiteBounds(values []float64) (float64, float64) {
	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if math.IsInf(minV, 1) || math.IsInf(maxV, -1) {
		return 0, 1
	}
	if minV == maxV {
		return minV, maxV + 1
	}
	return minV, maxV
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) == 1 {
		return mean, 0
	}
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return mean, math.Sqrt(variance)
}

func fillRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	r := rect.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Bounds()) {
			img.SetRGBA(x0, y0, col)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			if x0 == x1 {
				break
			}
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			if y0 == y1 {
				break
			}
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
