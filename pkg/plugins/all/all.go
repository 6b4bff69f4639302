// Package all links every built-in plugin into the binary.
package all

import (
	_ "github.com/cuemby/dynadns/pkg/plugins/checks"
	_ "github.com/cuemby/dynadns/pkg/plugins/metafo"
	_ "github.com/cuemby/dynadns/pkg/plugins/multifo"
	_ "github.com/cuemby/dynadns/pkg/plugins/null"
	_ "github.com/cuemby/dynadns/pkg/plugins/reflect"
	_ "github.com/cuemby/dynadns/pkg/plugins/simplefo"
	_ "github.com/cuemby/dynadns/pkg/plugins/static"
	_ "github.com/cuemby/dynadns/pkg/plugins/weighted"
)
