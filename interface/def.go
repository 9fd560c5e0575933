package iface

import "image"

// Resolution is the capture size requested from a camera.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// NamesConf points at the class names of a model, either inline or through a file.
type NamesConf struct {
	IsFile bool
	Data   any
}

type Detection struct {
	Box        image.Rectangle
	Confidence float32
	ClassID    int
	Label      string
}

type EngineConfig struct {
	ModelPath string
	Names     NamesConf
	Threshold float32
	InputSize int
	Backend   string
	Target    string
}
