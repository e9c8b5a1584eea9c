// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package zoo

import "sort"

// HubModels maps the hub-published architectures to whether each is
// expected to compile to a static graph. Names absent from the table are
// not checked against it.
var HubModels = map[string]bool{
	"alexnet":             true,
	"deeplabv3_resnet101": false,
	"densenet121":         false,
	"fcn_resnet101":       false,
	"googlenet":           false,
	"inception_v3":        false,
	"mobilenet_v2":        true,
	"resnet18":            true,
	"resnext50_32x4d":     false,
	"shufflenet_v2_x1_0":  true,
	"squeezenet1_0":       true,
	"vgg11":               true,
}

// HubScriptable returns the hub verdict for name and whether name is a
// hub model.
func HubScriptable(name string) (scriptable, ok bool) {
	scriptable, ok = HubModels[name]
	return scriptable, ok
}

// HubNames returns the hub model names sorted.
func HubNames() []string {
	names := make([]string, 0, len(HubModels))
	for n := range HubModels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
