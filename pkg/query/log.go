package query

import "github.com/prismon/photo-library/pkg/logger"

var log = logger.WithName("query")
