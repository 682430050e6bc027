package cli

import (
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/glacierkeeper/internal/common"
	"github.com/dmitrijs2005/glacierkeeper/internal/validate"
)

func (a *App) lsVaultCommand() *cli.Command {
	return &cli.Command{Name: "lsvault", Usage: "list vaults", Action: a.lsVault}
}

func (a *App) mkVaultCommand() *cli.Command {
	return &cli.Command{Name: "mkvault", Usage: "create a vault", ArgsUsage: "<vault>", Action: a.mkVault}
}

func (a *App) rmVaultCommand() *cli.Command {
	return &cli.Command{Name: "rmvault", Usage: "remove an empty vault", ArgsUsage: "<vault>", Action: a.rmVault}
}

func (a *App) describeVaultCommand() *cli.Command {
	return &cli.Command{Name: "describevault", Usage: "describe a vault", ArgsUsage: "<vault>", Action: a.describeVault}
}

// vaultArg returns the first argument after checking it is a valid vault
// name.
func vaultArg(c *cli.Context, op string) (string, error) {
	if c.NArg() < 1 {
		return "", common.Validation(op, "missing vault name")
	}
	vault := c.Args().First()
	if err := validate.VaultName(vault); err != nil {
		return "", err
	}
	return vault, nil
}

func (a *App) lsVault(c *cli.Context) error {
	ctx := c.Context

	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	vaults, err := client.ListVaults(ctx)
	if err != nil {
		return err
	}
	if len(vaults) == 0 {
		return nil
	}
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].Name < vaults[j].Name })

	f := a.format()
	t := newTable(a.Stdout, "VaultName", "NumberOfArchives", "SizeInBytes", "CreationDate", "LastInventoryDate", "VaultARN")
	for _, v := range vaults {
		t.row(v.Name, f.Integer(uint64(v.NumberOfArchives)), f.Integer(uint64(v.SizeInBytes)),
			formatTime(v.CreationDate), formatTime(v.LastInventoryDate), v.ARN)
	}
	return t.flush()
}

func (a *App) mkVault(c *cli.Context) error {
	ctx := c.Context

	vault, err := vaultArg(c, "mkvault")
	if err != nil {
		return err
	}
	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	location, err := client.CreateVault(ctx, vault)
	if err != nil {
		return err
	}
	a.println(location)
	return nil
}

func (a *App) rmVault(c *cli.Context) error {
	ctx := c.Context

	vault, err := vaultArg(c, "rmvault")
	if err != nil {
		return err
	}
	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteVault(ctx, vault); err != nil {
		return err
	}
	a.logger.Info(ctx, "vault removed", "vault", vault)
	return nil
}

func (a *App) describeVault(c *cli.Context) error {
	ctx := c.Context

	vault, err := vaultArg(c, "describevault")
	if err != nil {
		return err
	}
	client, err := a.glacierClient(ctx)
	if err != nil {
		return err
	}
	v, err := client.DescribeVault(ctx, vault)
	if err != nil {
		return err
	}

	f := a.format()
	t := newTable(a.Stdout, "LastInventory", "Archives", "Size", "ARN", "Created")
	t.row(formatTime(v.LastInventoryDate), f.Integer(uint64(v.NumberOfArchives)), f.Integer(uint64(v.SizeInBytes)),
		v.ARN, formatTime(v.CreationDate))
	return t.flush()
}
