// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the embedded resolution tables: the artifact kind
// catalog (catalog.yaml) and the search grammar (search.yaml). Both are
// embedded defaults that can be overridden per deployment via
// BERING_CONFIG_DIR (see watch.go).
package config

import (
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
)

// MaxYAMLFileSize caps config files at 1 MiB to bound parse cost on
// operator-supplied overrides.
const MaxYAMLFileSize = 1 << 20

var configTracer = otel.Tracer("github.com/AleutianAI/bering/services/bridge/config")

// validate is shared by all loaders in this package. The validator is
// stateless after construction and safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())
