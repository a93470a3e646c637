package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tenantgate.io/internal/auth"
)

func newTenantCmd() *cobra.Command {
	var name, code string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(svc *auth.Service) error {
				tenant, err := svc.CreateTenant(cmd.Context(), name, code)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s created (id %s)\n", tenant.Code, tenant.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&code, "code", "", "URL-safe tenant code, also the SAML SP entity id")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("code")

	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(create)
	return cmd
}

func newRoleCmd() *cobra.Command {
	var tenantCode, name, tier string
	create := &cobra.Command{
		Use:   "create",
		Short: "Add a role to a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := auth.ParsePermissionTier(tier)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), func(svc *auth.Service) error {
				tenant, err := svc.TenantByCode(cmd.Context(), tenantCode)
				if err != nil {
					return fmt.Errorf("tenant %q: %w", tenantCode, err)
				}
				role, err := svc.CreateRole(cmd.Context(), tenant.ID, name, parsed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "role %s (%s) created (id %s)\n", role.Name, role.Tier, role.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&tenantCode, "tenant", "", "tenant code")
	create.Flags().StringVar(&name, "name", "", "role name")
	create.Flags().StringVar(&tier, "tier", string(auth.TierGeneral), "permission tier: general or admin")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("name")

	cmd := &cobra.Command{Use: "role", Short: "Manage roles"}
	cmd.AddCommand(create)
	return cmd
}

func newUserCmd() *cobra.Command {
	var tenantCode, roleName, email, name, nameID, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Provision a user with credential and profile",
		Long: `Provision a user with credential and profile in one step.

The password is read from --password or, when omitted, from
TENANTGATE_USER_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("TENANTGATE_USER_PASSWORD")
			}
			if password == "" {
				return errors.New("password is required: use --password or TENANTGATE_USER_PASSWORD")
			}
			return withService(cmd.Context(), func(svc *auth.Service) error {
				ctx := cmd.Context()
				tenant, err := svc.TenantByCode(ctx, tenantCode)
				if err != nil {
					return fmt.Errorf("tenant %q: %w", tenantCode, err)
				}
				role, err := findRole(ctx, svc, tenant.ID, roleName)
				if err != nil {
					return err
				}
				user, err := svc.CreateUser(ctx, auth.UserInput{
					TenantID:             tenant.ID,
					RoleID:               role.ID,
					NameID:               nameID,
					Email:                email,
					Password:             password,
					PasswordConfirmation: password,
					DisplayName:          name,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s created in %s with role %s (id %s)\n",
					auth.NormalizeEmail(email), tenant.Code, role.Name, user.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&tenantCode, "tenant", "", "tenant code")
	create.Flags().StringVar(&roleName, "role", "", "role name within the tenant")
	create.Flags().StringVar(&email, "email", "", "sign-in email address")
	create.Flags().StringVar(&name, "name", "", "profile display name")
	create.Flags().StringVar(&nameID, "name-id", "", "optional SAML NameID")
	create.Flags().StringVar(&password, "password", "", "initial password")
	for _, f := range []string{"tenant", "role", "email", "name"} {
		_ = create.MarkFlagRequired(f)
	}

	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	cmd.AddCommand(create)
	return cmd
}

func findRole(ctx context.Context, svc *auth.Service, tenantID, name string) (*auth.Role, error) {
	roles, err := svc.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, strings.TrimSpace(name)) {
			return role, nil
		}
	}
	return nil, fmt.Errorf("role %q: %w", name, auth.ErrNotFound)
}
