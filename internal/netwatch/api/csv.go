/*
 * Copyright 2024 netwatch authors.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of the copyright holder is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"

	"github.com/brightgate-labs/netwatch/internal/netwatch/store"
)

// AppFs is the filesystem the whitelist CSV import spools to before
// parsing. Swapped for an in-memory fs in tests.
var AppFs afero.Fs = afero.NewOsFs()

var csvHeader = []string{"id", "indicator_type", "domain", "ip", "reason", "created_at"}

func (h *threatHandler) exportWhitelistCSV(c echo.Context) error {
	ctx := c.Request().Context()
	entries, err := h.db.ThreatWhitelist.List(ctx)
	if err != nil {
		h.logError("export whitelist csv", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set("Content-Disposition", `attachment; filename="whitelist.csv"`)
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response())
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.Write([]string{
			fmt.Sprintf("%d", e.ID),
			string(e.Type),
			e.Domain.String,
			e.IP.String,
			e.Reason,
			e.CreatedAt.Format(csvTimeFormat),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

const csvTimeFormat = "2006-01-02T15:04:05Z07:00"

// importWhitelistCSV spools the uploaded body to a temp file on AppFs,
// then parses it row by row, collecting up to the first 10 row errors
// rather than aborting the whole import on one bad line.
func (h *threatHandler) importWhitelistCSV(c echo.Context) error {
	ctx := c.Request().Context()

	tmp, err := afero.TempFile(AppFs, "", "whitelist-import-*.csv")
	if err != nil {
		h.logError("import whitelist csv", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer AppFs.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, c.Request().Body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read upload: "+err.Error())
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	r := csv.NewReader(tmp)
	header, err := r.Read()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "empty or unreadable csv")
	}
	cols := columnIndex(header)

	const maxErrors = 10
	var rowErrors []string
	var imported int

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(rowErrors) < maxErrors {
				rowErrors = append(rowErrors, err.Error())
			}
			continue
		}

		entry, _, err := whitelistEntryFromRequest(
			store.IndicatorType(fieldAt(row, cols, "indicator_type")),
			fieldAt(row, cols, "domain"),
			fieldAt(row, cols, "ip"),
			fieldAt(row, cols, "reason"),
		)
		if err != nil {
			if len(rowErrors) < maxErrors {
				rowErrors = append(rowErrors, err.Error())
			}
			continue
		}

		if _, err := h.db.ThreatWhitelist.Add(ctx, entry); err != nil {
			if len(rowErrors) < maxErrors {
				rowErrors = append(rowErrors, err.Error())
			}
			continue
		}
		imported++
	}

	if err := h.wl.LoadFromStore(ctx, h.db); err != nil {
		h.logWarn("rebuild whitelist snapshot after csv import", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"imported": imported,
		"errors":   rowErrors,
	})
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

func fieldAt(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
