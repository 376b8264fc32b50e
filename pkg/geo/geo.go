package geo

import "math"

// earthRadiusMeters 球面地球半径（米）
const earthRadiusMeters = 6371000.0

// Point 经纬度坐标点
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid 校验坐标取值范围
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// HaversineMeters 计算两点间大圆距离（米），对称，a==b 时为 0
func HaversineMeters(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// PointToSegmentMeters 计算点到线段的最近距离（米）。
// 在经纬度平面近似下把 p 投影到 start-end 所在直线，投影参数收敛到
// [0,1]（超出线段时取最近端点），再用大圆距离度量。区域级近似，
// 超长线段或极区附近不保证测地精确。
func PointToSegmentMeters(p, start, end Point) float64 {
	dLat := end.Latitude - start.Latitude
	dLon := end.Longitude - start.Longitude

	segLenSq := dLat*dLat + dLon*dLon
	if segLenSq == 0 {
		// 退化为点
		return HaversineMeters(p, start)
	}

	t := ((p.Latitude-start.Latitude)*dLat + (p.Longitude-start.Longitude)*dLon) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	nearest := Point{
		Latitude:  start.Latitude + t*dLat,
		Longitude: start.Longitude + t*dLon,
	}
	return HaversineMeters(p, nearest)
}
