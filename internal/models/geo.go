package models

import (
	"time"

	"TrailSafe/pkg/geo"
)

// GeoPoint 带时间戳的定位点，附加精度/速度/海拔可选
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
}

// Point 转为纯坐标
func (p GeoPoint) Point() geo.Point {
	return geo.Point{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Valid 校验坐标取值
func (p GeoPoint) Valid() bool {
	return p.Point().Valid()
}

// GeoPath 定位点序列，gorm 以 JSON 序列化存储
type GeoPath []GeoPoint

// Points 转为纯坐标序列
func (path GeoPath) Points() []geo.Point {
	pts := make([]geo.Point, len(path))
	for i, p := range path {
		pts[i] = p.Point()
	}
	return pts
}
