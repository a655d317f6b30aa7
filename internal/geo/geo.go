package geo

import (
	"errors"
	"math"
)

// 地球平均半径，单位米
const EarthRadiusMetres = 6_371_000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Position 是以度为单位的经纬度坐标
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Origin 是会话初始化时所有玩家的占位坐标，收到首次定位前一直保持
var Origin = Position{}

// Valid 校验坐标是否合法，调用 Distance 之前应先校验
func (p Position) Valid() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return ErrInvalidCoordinate
	}

	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidCoordinate
	}

	return nil
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance 使用 haversine 公式计算两点间的大圆距离，单位米
// 只适用于步行尺度，没有做椭球修正
func Distance(a, b Position) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*sinLng*sinLng
	// 浮点误差可能让 h 略微超过 1
	h = math.Min(1, h)

	return EarthRadiusMetres * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRange 判断两点距离是否不超过 r 米（包含边界）
func WithinRange(a, b Position, r float64) bool {
	return Distance(a, b) <= r
}
