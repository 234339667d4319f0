package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// List shows the user's vault files in server order.
func (a *App) List(ctx context.Context) error {
	names, err := a.vault.List(ctx)
	if err != nil {
		printlnFn("Error:", errText(err))
		return err
	}

	if len(names) == 0 {
		printlnFn("Your vault is empty.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Name"})
	for i, name := range names {
		table.Append([]string{strconv.Itoa(i + 1), name})
	}
	table.Render()
	return nil
}

// Upload reads a local file and uploads it to the vault. The path is taken
// from the command argument or prompted for.
func (a *App) Upload(ctx context.Context, path string) error {
	if path == "" {
		var err error
		path, err = getSimpleText(a.reader, "Enter path of the file to upload", os.Stdout)
		if err != nil {
			return err
		}
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		printlnFn("Could not read file:", err.Error())
		return err
	}

	res, err := a.vault.Upload(ctx, filepath.Base(path), payload)
	if err != nil {
		printlnFn("Upload failed:", errText(err))
		return err
	}

	printlnFn("Uploaded", res.FileName)
	if res.RiskScore != nil {
		printlnFn(fmt.Sprintf("Server risk score: %g", *res.RiskScore))
	}
	return nil
}

// Download fetches a vault file and saves it under the downloads directory.
func (a *App) Download(ctx context.Context, name string) error {
	if name == "" {
		var err error
		name, err = getSimpleText(a.reader, "Enter name of the file to download", os.Stdout)
		if err != nil {
			return err
		}
	}

	f, err := a.vault.Download(ctx, name)
	if err != nil {
		printlnFn("Download failed:", errText(err))
		return err
	}

	path, err := a.vault.SaveDownload(f)
	if err != nil {
		printlnFn("Could not save file:", err.Error())
		return err
	}

	printlnFn("Saved to", path)
	return nil
}
