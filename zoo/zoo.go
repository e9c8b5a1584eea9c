// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package zoo is the static registry of the model zoo.
//
// Every architecture is listed once with its family, the input shape it
// is exercised with, whether it is expected to compile to a static graph,
// and its constructor:
//
//	d, ok := zoo.Lookup("resnet18")
//	if !ok {
//	    return errUnknown
//	}
//	m, err := d.New(tensor.NewGenerator(1729), models.WithNumClasses(50))
//
// The family selects how the built layer is driven: classification and
// video models are nn.Module values, segmentation models implement
// Segmenter and detection models implement Detector.
package zoo

import (
	"fmt"
	"sort"

	"github.com/born-ml/visionzoo/internal/nn"
	"github.com/born-ml/visionzoo/internal/rng"
	"github.com/born-ml/visionzoo/internal/tensor"
	"github.com/born-ml/visionzoo/models"
	"github.com/born-ml/visionzoo/models/detection"
	"github.com/born-ml/visionzoo/models/segmentation"
	"github.com/born-ml/visionzoo/models/video"
)

// Family groups architectures by task.
type Family int

// Model families.
const (
	Classification Family = iota
	Segmentation
	Detection
	Video
)

// Families lists every family in registry order.
var Families = []Family{Classification, Segmentation, Detection, Video}

func (f Family) String() string {
	switch f {
	case Classification:
		return "classification"
	case Segmentation:
		return "segmentation"
	case Detection:
		return "detection"
	case Video:
		return "video"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// ParseFamily returns the family with the given name.
func ParseFamily(name string) (Family, error) {
	for _, f := range Families {
		if f.String() == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown model family %q", name)
}

// Constructor builds a model from a generator.
type Constructor func(g *rng.Generator, opts ...models.Option) (nn.Layer, error)

// Segmenter maps an image batch to per-pixel logits by output key.
type Segmenter interface {
	nn.Layer
	Forward(x *tensor.Tensor) map[string]*tensor.Tensor
}

// Detector maps a list of [3, H, W] images to one result per image.
type Detector interface {
	nn.Layer
	Forward(images []*tensor.Tensor) []detection.Result
}

// Descriptor describes one registered architecture.
type Descriptor struct {
	Name   string
	Family Family
	// InputShape is the shape of the synthetic input the model is run on.
	// Detection shapes are per image ([3, H, W]).
	InputShape tensor.Shape
	// Scriptable is the expected outcome of a static compile.
	Scriptable bool
	New        Constructor
}

func adapt[M nn.Layer](fn func(*rng.Generator, ...models.Option) (M, error)) Constructor {
	return func(g *rng.Generator, opts ...models.Option) (nn.Layer, error) {
		m, err := fn(g, opts...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

var (
	imageNetInput     = tensor.Shape{1, 3, 224, 224}
	inceptionInput    = tensor.Shape{1, 3, 299, 299}
	segmentationInput = tensor.Shape{1, 3, 300, 300}
	detectionInput    = tensor.Shape{3, 300, 300}
	videoInput        = tensor.Shape{1, 3, 4, 112, 112}
)

func classifier[M nn.Layer](name string, scriptable bool, fn func(*rng.Generator, ...models.Option) (M, error)) Descriptor {
	return Descriptor{Name: name, Family: Classification, InputShape: imageNetInput, Scriptable: scriptable, New: adapt(fn)}
}

var registry = []Descriptor{
	classifier("alexnet", true, models.NewAlexNet),
	classifier("densenet121", false, models.NewDenseNet121),
	classifier("densenet161", false, models.NewDenseNet161),
	classifier("densenet169", false, models.NewDenseNet169),
	classifier("densenet201", false, models.NewDenseNet201),
	classifier("googlenet", false, models.NewGoogLeNet),
	{Name: "inception_v3", Family: Classification, InputShape: inceptionInput, New: adapt(models.NewInceptionV3)},
	classifier("mnasnet0_5", true, models.NewMNASNet05),
	classifier("mnasnet0_75", true, models.NewMNASNet075),
	classifier("mnasnet1_0", true, models.NewMNASNet10),
	classifier("mnasnet1_3", true, models.NewMNASNet13),
	classifier("mobilenet_v2", true, models.NewMobileNetV2),
	classifier("resnet101", true, models.NewResNet101),
	classifier("resnet152", true, models.NewResNet152),
	classifier("resnet18", true, models.NewResNet18),
	classifier("resnet34", true, models.NewResNet34),
	classifier("resnet50", true, models.NewResNet50),
	classifier("resnext101_32x8d", false, models.NewResNeXt101),
	classifier("resnext50_32x4d", false, models.NewResNeXt50),
	classifier("shufflenet_v2_x0_5", true, models.NewShuffleNetV2x05),
	classifier("shufflenet_v2_x1_0", true, models.NewShuffleNetV2x10),
	classifier("shufflenet_v2_x1_5", true, models.NewShuffleNetV2x15),
	classifier("shufflenet_v2_x2_0", true, models.NewShuffleNetV2x20),
	classifier("squeezenet1_0", true, models.NewSqueezeNet10),
	classifier("squeezenet1_1", true, models.NewSqueezeNet11),
	classifier("vgg11", true, models.NewVGG11),
	classifier("vgg11_bn", true, models.NewVGG11BN),
	classifier("vgg13", true, models.NewVGG13),
	classifier("vgg13_bn", true, models.NewVGG13BN),
	classifier("vgg16", true, models.NewVGG16),
	classifier("vgg16_bn", true, models.NewVGG16BN),
	classifier("vgg19", true, models.NewVGG19),
	classifier("vgg19_bn", true, models.NewVGG19BN),
	classifier("wide_resnet101_2", true, models.NewWideResNet101),
	classifier("wide_resnet50_2", true, models.NewWideResNet50),

	{Name: "deeplabv3_resnet101", Family: Segmentation, InputShape: segmentationInput, New: adapt(segmentation.NewDeepLabV3ResNet101)},
	{Name: "deeplabv3_resnet50", Family: Segmentation, InputShape: segmentationInput, New: adapt(segmentation.NewDeepLabV3ResNet50)},
	{Name: "fcn_resnet101", Family: Segmentation, InputShape: segmentationInput, New: adapt(segmentation.NewFCNResNet101)},
	{Name: "fcn_resnet50", Family: Segmentation, InputShape: segmentationInput, New: adapt(segmentation.NewFCNResNet50)},

	{Name: "fasterrcnn_resnet50_fpn", Family: Detection, InputShape: detectionInput, New: adapt(detection.NewFasterRCNNResNet50FPN)},

	{Name: "mc3_18", Family: Video, InputShape: videoInput, Scriptable: true, New: adapt(video.NewMC318)},
	{Name: "r2plus1d_18", Family: Video, InputShape: videoInput, Scriptable: true, New: adapt(video.NewR2Plus1D18)},
	{Name: "r3d_18", Family: Video, InputShape: videoInput, Scriptable: true, New: adapt(video.NewR3D18)},
}

var byName = func() map[string]int {
	m := make(map[string]int, len(registry))
	for i, d := range registry {
		if _, dup := m[d.Name]; dup {
			panic("zoo: duplicate model " + d.Name)
		}
		m[d.Name] = i
	}
	return m
}()

// Lookup returns the descriptor registered under name.
func Lookup(name string) (Descriptor, bool) {
	i, ok := byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return registry[i], true
}

// All returns every descriptor, grouped by family and sorted by name
// within a family.
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ByFamily returns the descriptors of one family sorted by name.
func ByFamily(f Family) []Descriptor {
	var out []Descriptor
	for _, d := range All() {
		if d.Family == f {
			out = append(out, d)
		}
	}
	return out
}

// ClassificationModels returns the classification descriptors.
func ClassificationModels() []Descriptor { return ByFamily(Classification) }

// SegmentationModels returns the segmentation descriptors.
func SegmentationModels() []Descriptor { return ByFamily(Segmentation) }

// DetectionModels returns the detection descriptors.
func DetectionModels() []Descriptor { return ByFamily(Detection) }

// VideoModels returns the video descriptors.
func VideoModels() []Descriptor { return ByFamily(Video) }

// Names returns the names of descs in order.
func Names(descs []Descriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Name
	}
	return out
}
